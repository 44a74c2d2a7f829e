// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for launcher packages.
//
// [RequireReceive] wraps the select-with-timeout safety valve so that
// a test waiting on a goroutine fails with a message instead of
// hanging the suite.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [Script] writes an executable /bin/sh script. Process tests use it
// to stand in for a display server, a session command, or a splash
// control binary.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
