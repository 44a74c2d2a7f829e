// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs one display server from fork to exit.
//
// A [Supervisor] arms a readiness channel, starts the server, and
// waits for it to report that it accepts connections. It then hands
// the screen over from the boot splash, tells the service manager the
// display is ready, optionally starts a session process, and reaps
// children until the server exits. TERM and INT received by the
// launcher are forwarded to the server. The launcher's exit code is
// the server's exit code when it exited normally and
// [process.FailureCode] otherwise.
//
// All signal handling is synchronous: signals arrive on a channel
// registered with [NotifySignals] before the server is started, so a
// signal that arrives before the server's pid is known is queued
// rather than lost. Children are reaped with non-blocking wait4 sweeps
// triggered by SIGCHLD; nothing blocks in wait4 in the background.
//
// A readiness timeout leaves the server running. A server that is
// merely slow is better left for an ancestor to reap than killed.
package supervisor
