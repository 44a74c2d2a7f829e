// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package readiness

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
)

// ErrTimeout is returned by Await when every attempt timed out.
var ErrTimeout = errors.New("display server did not signal readiness")

// Outcome is the result of a single Wait.
type Outcome int

const (
	// Ready means the server signaled readiness.
	Ready Outcome = iota + 1

	// TimedOut means the deadline passed first.
	TimedOut

	// Interrupted means something unrelated woke the wait. The caller
	// inspects the accompanying signal (nil when the server closed its
	// end of the pipe) and waits again with the same deadline.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed out"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Channel is a single-shot, re-armable readiness event.
type Channel interface {
	// Arm resets the channel to unsignaled and begins listening. It
	// must be called before the server process is started.
	Arm() (Attachment, error)

	// Wait blocks until the server signals, deadline passes, or an
	// interrupt arrives.
	Wait(deadline time.Time) (Outcome, os.Signal)

	// Detail describes what the server reported, such as ":0" for a
	// displayfd pipe. Empty when the strategy carries no payload.
	Detail() string

	// Close stops listening and releases descriptors.
	Close() error
}

// Attachment is what the server process needs to reach an armed
// channel.
type Attachment struct {
	// Args are inserted into the server's argument vector.
	Args []string

	// Files are inherited by the server as descriptors 3, 4, ...
	Files []*os.File

	// IgnoreSignal, when set, must be ignored in the server process
	// from before exec.
	IgnoreSignal os.Signal

	release func()
}

// Release closes the parent's copies of descriptors handed to the
// server. Call it once the server has started, or on start failure.
// Safe to call more than once.
func (a Attachment) Release() {
	if a.release != nil {
		a.release()
	}
}

func onceRelease(files ...*os.File) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, file := range files {
				file.Close()
			}
		})
	}
}

// Policy bounds the wait.
type Policy struct {
	// Timeout is the length of one attempt.
	Timeout time.Duration

	// Attempts is how many times the timeout is restarted before
	// giving up.
	Attempts int
}

// DefaultPolicy is three attempts of ten seconds.
func DefaultPolicy() Policy {
	return Policy{Timeout: 10 * time.Second, Attempts: 3}
}

// InterruptFunc handles an Interrupted outcome. A non-nil error ends
// the wait and is returned from Await unchanged.
type InterruptFunc func(os.Signal) error

// Await waits on channel under policy. It returns nil once the channel
// reports Ready, the error from onInterrupt if that aborts the wait,
// or an error wrapping ErrTimeout after the last attempt.
func Await(channel Channel, clk clock.Clock, policy Policy, onInterrupt InterruptFunc, logger *slog.Logger) error {
	attempts := max(policy.Attempts, 1)
	start := clk.Now()

	for attempt := 1; attempt <= attempts; attempt++ {
		ready, err := awaitAttempt(channel, clk, policy.Timeout, onInterrupt)
		if err != nil {
			return err
		}
		if ready {
			logger.Debug("display server signaled readiness",
				"attempt", attempt,
				"elapsed", clk.Now().Sub(start),
				"detail", channel.Detail(),
			)
			return nil
		}
		logger.Warn("timed out waiting for display server",
			"attempt", attempt,
			"attempts", attempts,
			"timeout", policy.Timeout,
		)
	}

	return fmt.Errorf("%w within %d attempts of %v (commonly a driver or configuration problem, check the server log)",
		ErrTimeout, attempts, policy.Timeout)
}

// awaitAttempt runs one attempt against a deadline fixed at entry.
func awaitAttempt(channel Channel, clk clock.Clock, timeout time.Duration, onInterrupt InterruptFunc) (bool, error) {
	deadline := clk.Now().Add(timeout)
	for {
		outcome, sig := channel.Wait(deadline)
		switch outcome {
		case Ready:
			return true, nil
		case TimedOut:
			return false, nil
		case Interrupted:
			if onInterrupt != nil {
				if err := onInterrupt(sig); err != nil {
					return false, err
				}
			}
		default:
			return false, fmt.Errorf("readiness channel returned %v", outcome)
		}
	}
}

// waitTimer arms a timer for the time left until deadline. It returns
// nil when the deadline has already passed.
func waitTimer(clk clock.Clock, deadline time.Time) *clock.Timer {
	remaining := deadline.Sub(clk.Now())
	if remaining <= 0 {
		return nil
	}
	return clk.NewTimer(remaining)
}
