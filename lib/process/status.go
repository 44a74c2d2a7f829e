// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// FailureCode is the exit code used for every launcher failure and for
// a primary child that did not exit normally.
const FailureCode = 1

// ExitCode maps a wait status to the launcher's exit code: the child's
// own code when it exited normally, FailureCode otherwise.
func ExitCode(status unix.WaitStatus) int {
	if status.Exited() {
		return status.ExitStatus()
	}
	return FailureCode
}

// Disposition describes a wait status in words: "exited with code 0",
// "killed by signal terminated", "stopped by signal ...", or
// "continued".
func Disposition(status unix.WaitStatus) string {
	switch {
	case status.Exited():
		return fmt.Sprintf("exited with code %d", status.ExitStatus())
	case status.Signaled():
		description := fmt.Sprintf("killed by signal %v", status.Signal())
		if status.CoreDump() {
			description += " (core dumped)"
		}
		return description
	case status.Stopped():
		return fmt.Sprintf("stopped by signal %v", status.StopSignal())
	case status.Continued():
		return "continued"
	default:
		return fmt.Sprintf("unknown wait status %#x", uint32(status))
	}
}

// LogAttrs returns slog attributes describing status, for use with
// logger.LogAttrs or logger.Info(msg, LogAttrs(status)...).
func LogAttrs(status unix.WaitStatus) []any {
	switch {
	case status.Exited():
		return []any{slog.String("disposition", "exited"), slog.Int("exit_code", status.ExitStatus())}
	case status.Signaled():
		return []any{
			slog.String("disposition", "signaled"),
			slog.String("signal", status.Signal().String()),
			slog.Bool("core_dumped", status.CoreDump()),
		}
	case status.Stopped():
		return []any{slog.String("disposition", "stopped"), slog.String("signal", status.StopSignal().String())}
	case status.Continued():
		return []any{slog.String("disposition", "continued")}
	default:
		return []any{slog.String("disposition", "unknown"), slog.Uint64("status", uint64(status))}
	}
}
