// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SocketDir creates a short-named directory in /tmp for Unix domain
// sockets. It is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()

	directory, err := os.MkdirTemp("/tmp", "dl-")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(directory) })
	return directory
}

// Script writes body to an executable shell script named name inside
// directory and returns its path. The "#!/bin/sh" line is added.
func Script(t *testing.T, directory, name, body string) string {
	t.Helper()

	path := filepath.Join(directory, name)
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("writing script %s: %v", path, err)
	}
	return path
}
