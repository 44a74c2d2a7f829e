// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package readiness waits for a freshly started display server to
// report that it accepts connections.
//
// A [Channel] is armed before the server is started. Arming returns an
// [Attachment]: the extra arguments and inherited descriptors that
// route the server's notification back to the channel. The supervisor
// then calls [Await], which applies a [Policy] of bounded attempts:
//
//	channel := readiness.NewPipe(clk, interrupts)
//	attachment, err := channel.Arm()
//	// start the server with attachment.Args and attachment.Files
//	attachment.Release()
//	err = readiness.Await(channel, clk, readiness.DefaultPolicy(), onInterrupt, logger)
//
// Two strategies exist. [NewPipe] hands the server the write end of a
// pipe as fd 3 together with "-displayfd 3"; the server writes its
// display number there once it is listening. [NewSignal] relies on the
// X server convention of raising SIGUSR1 at its parent when it starts
// with SIGUSR1 ignored.
//
// Both strategies share an interrupt source with the supervisor. An
// unrelated signal (SIGCHLD, SIGTERM, ...) wakes the wait with
// [Interrupted] and the caller's callback decides whether to keep
// waiting. Deadlines are absolute and computed once per attempt, so
// any number of interrupts never lengthens an attempt.
package readiness
