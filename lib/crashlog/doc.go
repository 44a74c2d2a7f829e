// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crashlog keeps compressed copies of the display server's log
// after abnormal exits.
//
// The X server truncates its log file on the next start, and display
// managers restart the launcher quickly after a crash, so the log that
// explains a crash is usually overwritten within seconds. An [Archive]
// copies it into a separate directory as a zstd or lz4 frame named by
// time and launch id, and prunes the directory to the newest N
// archives.
package crashlog
