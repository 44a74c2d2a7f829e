// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the display launcher's configuration.
//
// Configuration comes from at most one file, named by the --config
// flag or the DISPLAY_LAUNCHER_CONFIG environment variable. There is
// no search path and no ~/.config discovery: when neither is set the
// launcher runs on [Default] values alone. Command-line flags are
// applied by the caller after loading, so the precedence is
// defaults < file < flags.
//
// Files ending in .json or .jsonc are parsed as JSON with comments and
// trailing commas allowed. Everything else is parsed as YAML.
//
// After loading, ${VAR} and ${VAR:-default} patterns in path fields are
// expanded from the environment. No other environment variables
// override config values.
//
// Key exports:
//
//   - [Config] -- server, readiness, session, splash, state, crash log
//     and logging sections
//   - [Default] -- every field populated
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Duration] -- a time.Duration that decodes from "10s" strings
//
// This package depends on no other launcher packages.
package config
