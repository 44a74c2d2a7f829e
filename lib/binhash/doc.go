// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash identifies display server binaries by content.
//
// Distribution upgrades replace /usr/bin/Xorg in place, so a path does
// not say which server actually ran. The launcher logs a BLAKE3 digest
// of the binary it selected and records it in the session state file,
// which makes "the server started crashing after the upgrade" a
// question the state directory can answer.
//
//   - [HashFile] streams a file through BLAKE3 with constant memory
//   - [FormatDigest] renders a digest as lowercase hex
//   - [ParseDigest] validates and parses that form
//
// This package has no dependencies on other launcher packages.
package binhash
