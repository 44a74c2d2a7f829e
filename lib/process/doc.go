// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the launcher's process-level helpers.
//
// [Fatal] is the entrypoint error handler for errors that occur before
// the structured logger exists (flag parsing, config loading). It is
// the one place besides the status subcommand that writes raw text to
// stderr.
//
// [ExitCode] and [Disposition] interpret a wait status the same way
// everywhere: the supervisor's reap loop logs a disposition for every
// reaped pid, and the launcher's own exit code is derived from the
// primary child's status with [ExitCode].
package process
