// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sdnotify reports launcher lifecycle events to systemd over
// the NOTIFY_SOCKET datagram protocol.
//
// Every call is best effort. When the launcher does not run under
// systemd (no NOTIFY_SOCKET) the calls do nothing, and send failures
// are logged at debug level and otherwise ignored.
package sdnotify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Event is a lifecycle transition reported to the service manager.
type Event int

const (
	// Starting updates STATUS only.
	Starting Event = iota + 1

	// Ready sends READY=1.
	Ready

	// Stopping sends STOPPING=1.
	Stopping

	// Watchdog sends WATCHDOG=1.
	Watchdog
)

func (e Event) String() string {
	switch e {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	case Watchdog:
		return "watchdog"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Notifier sends events to systemd.
type Notifier struct {
	logger *slog.Logger
	send   func(unsetEnvironment bool, state string) (bool, error)
}

// New returns a Notifier using the process's NOTIFY_SOCKET.
func New(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger, send: daemon.SdNotify}
}

// Notify sends event with an optional STATUS line. It never fails.
func (n *Notifier) Notify(event Event, status string) {
	var lines []string
	switch event {
	case Ready:
		lines = append(lines, daemon.SdNotifyReady)
	case Stopping:
		lines = append(lines, daemon.SdNotifyStopping)
	case Watchdog:
		lines = append(lines, daemon.SdNotifyWatchdog)
	}
	if status != "" {
		// STATUS is a single line; a newline would start a new
		// assignment.
		lines = append(lines, "STATUS="+strings.ReplaceAll(status, "\n", " "))
	}
	if len(lines) == 0 {
		return
	}

	sent, err := n.send(false, strings.Join(lines, "\n"))
	switch {
	case err != nil:
		n.logger.Debug("service manager notification failed", "event", event.String(), "error", err)
	case !sent:
		// No NOTIFY_SOCKET: not running under systemd.
	default:
		if event != Watchdog {
			n.logger.Debug("notified service manager", "event", event.String(), "status", status)
		}
	}
}

// WatchdogInterval returns how often Watchdog events should be sent:
// half of WATCHDOG_USEC when the watchdog is enabled for this process,
// zero otherwise.
func (n *Notifier) WatchdogInterval() time.Duration {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.logger.Debug("ignoring malformed watchdog environment", "error", err)
		return 0
	}
	return interval / 2
}
