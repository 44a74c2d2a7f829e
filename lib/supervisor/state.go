// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "fmt"

// State is a supervision phase. States only move forward.
type State int

const (
	Starting State = iota + 1
	WaitingForReady
	Ready
	Running
	Stopping
	Exited
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case WaitingForReady:
		return "waiting-for-ready"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Exited:
		return "exited"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot of the supervisor, passed to Config.OnChange.
type Status struct {
	State State

	// ServerPID is zero until the server has started.
	ServerPID int

	// SessionPID is the session process, zero when none is running.
	SessionPID int

	// Display is the display name the server runs on, once known.
	Display string

	// ExitCode is the launcher's exit code. Meaningful in Stopping
	// and Exited.
	ExitCode int

	// ServerReaped is set once the server's exit has been collected.
	// It stays false after a readiness timeout, where the server is
	// left running.
	ServerReaped bool
}
