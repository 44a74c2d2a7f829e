// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/bureau-foundation/displaylauncher/lib/config"
	"github.com/bureau-foundation/displaylauncher/lib/sessionstate"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// statusEntry is one state file as printed by the status subcommand.
type statusEntry struct {
	sessionstate.Record

	// LauncherRunning is false for a state file left behind by a
	// launcher that no longer exists.
	LauncherRunning bool `json:"launcher_running"`
}

// runStatus prints every session state file as JSON, or with --raw as
// CBOR diagnostic notation.
func runStatus(args []string, stdout io.Writer) error {
	var configPath string
	var raw bool

	flagSet := pflag.NewFlagSet(binaryName+" status", pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&raw, "raw", false, "print the CBOR diagnostic notation of each state file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("status: unexpected argument %q", flagSet.Arg(0))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Unreadable files are reported after the readable ones are
	// printed.
	records, listErr := sessionstate.List(cfg.State.Dir)

	if raw {
		for _, record := range records {
			path := filepath.Join(cfg.State.Dir, sessionstate.FileName(record))
			diagnostic, err := sessionstate.Diagnose(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s: %s\n", path, diagnostic)
		}
		return listErr
	}

	entries := make([]statusEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, statusEntry{
			Record:          record,
			LauncherRunning: processExists(record.LauncherPID),
		})
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(entries); err != nil {
		return err
	}
	return listErr
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
