// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package splash hands the screen over from the boot splash to the
// display server.
//
// [Plymouth] drives the plymouth control binary. The launcher asks
// whether the splash is running once the server is ready, deactivates
// it so it stops drawing but keeps its last frame, reports readiness,
// and finally tells it to quit with --retain-splash so the frame stays
// on screen until the first client paints. Every call is best effort:
// failures are logged, never returned.
//
// [Snapshotter] copies the server's root window into a pixmap that
// outlives the launcher's X connection and publishes it through the
// _XROOTPMAP_ID and ESETROOT_PMAP_ID root properties, which window
// managers and compositors read as the current wallpaper. The server
// may refuse connections for a moment after reporting readiness, so
// connecting is retried a bounded number of times.
package splash
