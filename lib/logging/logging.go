// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the launcher's structured logger.
//
// The launcher usually runs under a display manager or systemd with
// stderr going to the journal, where JSON lines are easier to query.
// When an operator runs it by hand on a terminal the same events are
// printed with slog's text handler instead.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// New returns a logger writing to w. format is "auto", "text" or
// "json"; "auto" chooses text when w is a terminal. level is "debug",
// "info", "warn" or "error".
func New(format, level string, w io.Writer) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	options := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, options)
	case "json":
		handler = slog.NewJSONHandler(w, options)
	case "auto", "":
		if isTerminal(w) {
			handler = slog.NewTextHandler(w, options)
		} else {
			handler = slog.NewJSONHandler(w, options)
		}
	default:
		return nil, fmt.Errorf("invalid log format %q (want auto, text or json)", format)
	}
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything. Tests use it where
// log output is not under test.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
