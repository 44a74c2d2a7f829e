// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch resolves and starts the display server.
//
// [Resolve] turns [Options] into an immutable [Spec]: it probes the
// candidate paths for the first regular executable file, validates the
// VT and seat taken from the options or from XDG_VTNR and XDG_SEAT,
// and assembles the argument vector in a fixed order:
//
//	program [display] [-seat S] [-auth F] [-logfile L] [readiness args]
//	        [extra option tokens] [positional args] [vtN]
//
// Resolution happens before anything is armed or started, so a missing
// server fails with [ErrExecutableNotFound] and no side effects.
//
// A [Starter] creates the server process. [DirectStarter] execs the
// server directly. [HelperStarter] re-executes the launcher binary as
// "exec-child", which ignores the readiness signal and then replaces
// itself with the server through [ExecChild]. The helper is required
// for SIGUSR1 readiness because a Go parent cannot hand an ignored
// signal disposition to a child it starts with os/exec.
//
// [StartDetached] starts the session command in its own session. No
// starter waits on what it starts: the supervisor reaps with wait4.
package launch
