// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// ErrExecFailed wraps every failure to replace the process image.
var ErrExecFailed = errors.New("replacing process image failed")

// execFunc is unix.Exec outside tests.
var execFunc = unix.Exec

// Exec replaces the current process with argv. It only returns on
// failure, and the error always wraps ErrExecFailed.
func Exec(argv []string, env []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("%w: empty argument vector", ErrExecFailed)
	}
	err := execFunc(argv[0], argv, env)
	return fmt.Errorf("%w: %s: %w", ErrExecFailed, argv[0], err)
}

// ExecChild is the body of the exec-child helper: it ignores the given
// signals so the dispositions survive exec, then becomes argv.
func ExecChild(argv []string, ignore ...os.Signal) error {
	if len(ignore) > 0 {
		signal.Ignore(ignore...)
	}
	return Exec(argv, os.Environ())
}
