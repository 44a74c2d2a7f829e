// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Display-launcher starts an X display server and supervises it for
// the lifetime of a graphical session. It waits for the server to
// accept connections, hands the screen over from the Plymouth boot
// splash, reports readiness to systemd, optionally starts a session
// process, forwards SIGTERM and SIGINT to the server, and exits with
// the server's exit code.
//
// Subcommands:
//
//	display-launcher [flags] [-- server-arguments...]
//	display-launcher status [--config FILE] [--raw]
//	display-launcher exec-child -- argv...
//
// exec-child is internal: in signal readiness mode the launcher starts
// itself through it so that SIGUSR1 is ignored in the server process
// before the server binary is executed.
package main
