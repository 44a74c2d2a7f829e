// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package readiness

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
)

// ReadySignal is the signal an X server raises at its parent when it
// starts with the signal ignored.
const ReadySignal = syscall.SIGUSR1

// Signal is the SIGUSR1 readiness strategy.
type Signal struct {
	clock      clock.Clock
	interrupts <-chan os.Signal
	notify     chan os.Signal
	armed      bool
}

// NewSignal returns an unarmed SIGUSR1 channel. interrupts may be nil.
func NewSignal(clk clock.Clock, interrupts <-chan os.Signal) *Signal {
	return &Signal{clock: clk, interrupts: interrupts}
}

// Arm registers for SIGUSR1 and discards any signal left over from a
// previous arming. The attachment asks for the signal to be ignored in
// the server, which is what makes the server raise it.
func (s *Signal) Arm() (Attachment, error) {
	if s.notify == nil {
		s.notify = make(chan os.Signal, 1)
		signal.Notify(s.notify, ReadySignal)
	}
	select {
	case <-s.notify:
	default:
	}
	s.armed = true
	return Attachment{IgnoreSignal: ReadySignal}, nil
}

// Wait implements Channel.
func (s *Signal) Wait(deadline time.Time) (Outcome, os.Signal) {
	timer := waitTimer(s.clock, deadline)
	if timer == nil {
		return TimedOut, nil
	}
	defer timer.Stop()

	var notify <-chan os.Signal
	if s.armed {
		notify = s.notify
	}

	select {
	case <-notify:
		return Ready, nil
	case sig := <-s.interrupts:
		return Interrupted, sig
	case <-timer.C:
		return TimedOut, nil
	}
}

// Detail is always empty: the signal carries no payload.
func (s *Signal) Detail() string { return "" }

// Close disarms the channel. SIGUSR1 stays routed to it so that a late
// or repeated signal from the server cannot terminate the launcher.
func (s *Signal) Close() error {
	s.armed = false
	return nil
}
