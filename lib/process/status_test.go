// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// Linux wait status encodings: exit code in bits 8-15, terminating
// signal in bits 0-6 with 0x80 for a core dump, 0x7f for stopped and
// 0xffff for continued.
func exitedStatus(code int) unix.WaitStatus { return unix.WaitStatus(code << 8) }
func signaledStatus(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(sig) }

const continuedStatus = unix.WaitStatus(0xffff)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		status unix.WaitStatus
		want   int
	}{
		{"clean exit", exitedStatus(0), 0},
		{"nonzero exit", exitedStatus(3), 3},
		{"killed by SIGTERM", signaledStatus(unix.SIGTERM), FailureCode},
		{"killed by SIGSEGV", signaledStatus(unix.SIGSEGV) | 0x80, FailureCode},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ExitCode(test.status); got != test.want {
				t.Errorf("ExitCode(%#x) = %d, want %d", uint32(test.status), got, test.want)
			}
		})
	}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		status unix.WaitStatus
		want   string
	}{
		{exitedStatus(2), "exited with code 2"},
		{signaledStatus(unix.SIGKILL), "killed by signal killed"},
		{signaledStatus(unix.SIGSEGV) | 0x80, "killed by signal segmentation fault (core dumped)"},
		{continuedStatus, "continued"},
	}
	for _, test := range tests {
		if got := Disposition(test.status); got != test.want {
			t.Errorf("Disposition(%#x) = %q, want %q", uint32(test.status), got, test.want)
		}
	}
}

func TestLogAttrs(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, nil))

	logger.Info("reaped", LogAttrs(exitedStatus(5))...)
	logger.Info("reaped", LogAttrs(signaledStatus(unix.SIGTERM))...)

	output := buffer.String()
	for _, want := range []string{"disposition=exited", "exit_code=5", "disposition=signaled", "signal=terminated"} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q:\n%s", want, output)
		}
	}
}
