// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the launcher's CBOR encoding configuration.
//
// The launcher writes one binary record per display to its state
// directory (see lib/sessionstate). Those records are CBOR so that the
// status subcommand, a crash collector, or a later launcher run can
// read them without agreeing on a Go type. Encoding uses Core
// Deterministic Encoding (RFC 8949 §4.2): the same record always
// produces the same bytes, which keeps state files diffable between
// runs.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// Types that are only ever written as CBOR use `cbor` struct tags.
// Types that the status subcommand also prints as JSON use `json`
// tags, which fxamacker/cbor reads as a fallback.
package codec
