// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/codec"
	"github.com/google/uuid"
)

const fileSuffix = ".cbor"

// Record is one launcher's state. Field tags are json so that the
// status subcommand can print a record as JSON.
type Record struct {
	LaunchID     string    `json:"launch_id"`
	LauncherPID  int       `json:"launcher_pid"`
	Phase        string    `json:"phase"`
	Display      string    `json:"display,omitempty"`
	VT           int       `json:"vt,omitempty"`
	ServerPID    int       `json:"server_pid,omitempty"`
	SessionPID   int       `json:"session_pid,omitempty"`
	ServerBinary string    `json:"server_binary"`
	ServerHash   string    `json:"server_hash,omitempty"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewLaunchID returns a fresh random launch identifier.
func NewLaunchID() string {
	return uuid.NewString()
}

// FileName returns the state file name for record.
func FileName(record Record) string {
	if number, ok := strings.CutPrefix(record.Display, ":"); ok && number != "" {
		return "display-" + number + fileSuffix
	}
	return "launch-" + record.LaunchID + fileSuffix
}

// Store writes one launcher's records into a directory.
type Store struct {
	directory string
	current   string
}

// NewStore returns a Store writing into directory, which must exist.
func NewStore(directory string) *Store {
	return &Store{directory: directory}
}

// Path returns the file the last Write went to, or "".
func (s *Store) Path() string { return s.current }

// Write atomically replaces the state file with record. When the
// record's file name changes, the previous file is removed.
func (s *Store) Write(record Record) error {
	if record.LaunchID == "" {
		return errors.New("session record has no launch id")
	}

	path := filepath.Join(s.directory, FileName(record))
	if err := writeAtomic(path, record); err != nil {
		return err
	}
	if s.current != "" && s.current != path {
		if err := removeIfExists(s.current); err != nil {
			return err
		}
	}
	s.current = path
	return nil
}

// Remove deletes the current state file. Idempotent.
func (s *Store) Remove() error {
	if s.current == "" {
		return nil
	}
	err := removeIfExists(s.current)
	s.current = ""
	return err
}

func writeAtomic(path string, record Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

// Read parses one state file. A missing file's error wraps
// os.ErrNotExist.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return record, nil
}

// Diagnose returns the CBOR diagnostic notation of a state file.
func Diagnose(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return codec.Diagnose(data)
}

// List reads every state file in directory, ordered by file name. A
// missing directory yields no records. Unreadable files are reported
// together after the readable ones are collected.
func List(directory string) ([]Record, error) {
	entries, err := os.ReadDir(directory)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), fileSuffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var records []Record
	var errs []error
	for _, name := range names {
		record, err := Read(filepath.Join(directory, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, record)
	}
	return records, errors.Join(errs...)
}
