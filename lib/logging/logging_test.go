// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := New("json", "info", &buffer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("server ready", "display", ":0", "pid", 1234)

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buffer.String())
	}
	if record["msg"] != "server ready" || record["display"] != ":0" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNewAutoUsesJSONForNonTerminal(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := New("auto", "info", &buffer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	if !strings.HasPrefix(buffer.String(), "{") {
		t.Errorf("auto format on a buffer should be JSON, got %q", buffer.String())
	}
}

func TestNewText(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := New("text", "info", &buffer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("reaped", "pid", 42)
	if !strings.Contains(buffer.String(), "msg=reaped pid=42") {
		t.Errorf("text output = %q", buffer.String())
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buffer bytes.Buffer
	logger, err := New("text", "warn", &buffer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	output := buffer.String()
	if strings.Contains(output, "dropped") || !strings.Contains(output, "kept") {
		t.Errorf("level filtering failed:\n%s", output)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New("xml", "info", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := New("json", "loud", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
}
