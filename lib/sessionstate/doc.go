// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstate records what a running launcher is doing in a
// small CBOR file per launch.
//
// The supervisor reports every state transition; the launcher turns
// each into a [Record] and hands it to a [Store], which writes it
// atomically (temporary file, fsync, rename, directory fsync) so a
// reader never sees a partial record. Before the server reports its
// display the file is named launch-<id>.cbor; afterwards it is
// display-<N>.cbor and the launch file is removed. The file is deleted
// when the server exits cleanly and kept, with the exit code filled
// in, when it does not.
//
// "display-launcher status" reads the directory with [List].
package sessionstate
