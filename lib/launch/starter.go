// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/bureau-foundation/displaylauncher/lib/readiness"
)

// ErrHelperRequired is returned by DirectStarter when the readiness
// attachment needs a signal ignored in the server.
var ErrHelperRequired = errors.New("readiness strategy requires the exec-child helper")

// HelperCommand is the subcommand name HelperStarter invokes.
const HelperCommand = "exec-child"

// Starter creates the server process and returns its pid. The process
// is not waited on: the caller reaps it.
type Starter interface {
	Start(spec Spec, attachment readiness.Attachment) (int, error)
}

// DirectStarter starts the server binary itself.
type DirectStarter struct {
	// Env is the server's environment. Nil inherits the launcher's.
	Env []string

	// Stdout and Stderr must be files: the process is never waited
	// on through exec.Cmd, so copy goroutines would leak. Nil means
	// /dev/null.
	Stdout *os.File
	Stderr *os.File
}

// Start implements Starter.
func (s DirectStarter) Start(spec Spec, attachment readiness.Attachment) (int, error) {
	if attachment.IgnoreSignal != nil {
		return 0, fmt.Errorf("%w (%v)", ErrHelperRequired, attachment.IgnoreSignal)
	}
	argv := spec.Argv()
	return start(argv[0], argv[1:], s.Env, s.Stdout, s.Stderr, attachment.Files, nil)
}

// HelperStarter re-executes Executable as "exec-child -- argv..." so
// the helper can set signal dispositions before becoming the server.
// The helper keeps the pid, so the returned pid is the server's.
type HelperStarter struct {
	// Executable is the launcher binary, usually os.Executable().
	Executable string

	Env    []string
	Stdout *os.File
	Stderr *os.File
}

// Start implements Starter.
func (s HelperStarter) Start(spec Spec, attachment readiness.Attachment) (int, error) {
	args := append([]string{HelperCommand, "--"}, spec.Argv()...)
	return start(s.Executable, args, s.Env, s.Stdout, s.Stderr, attachment.Files, nil)
}

// StartDetached starts argv in a new session and returns its pid
// without waiting on it. Used for the session process, which must
// survive the launcher's controlling terminal going away.
func StartDetached(argv, env []string, stdout, stderr *os.File) (int, error) {
	if len(argv) == 0 {
		return 0, errors.New("empty command")
	}
	return start(argv[0], argv[1:], env, stdout, stderr, nil, &syscall.SysProcAttr{Setsid: true})
}

func start(program string, args, env []string, stdout, stderr *os.File, files []*os.File, attributes *syscall.SysProcAttr) (int, error) {
	command := exec.Command(program, args...)
	command.SysProcAttr = attributes
	command.Env = env
	if stdout != nil {
		command.Stdout = stdout
	}
	if stderr != nil {
		command.Stderr = stderr
	}
	command.ExtraFiles = files

	if err := command.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", program, err)
	}

	pid := command.Process.Pid
	// The supervisor reaps with wait4 and signals by pid, so the
	// handle is not needed.
	command.Process.Release()
	return pid, nil
}
