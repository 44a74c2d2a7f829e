// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sampleRecord struct {
	Display   string    `cbor:"display"`
	ServerPID int       `cbor:"server_pid,omitempty"`
	Phase     string    `cbor:"phase"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

type sampleDualRecord struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{
		Display:   ":0",
		ServerPID: 4242,
		Phase:     "running",
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Display != original.Display || decoded.ServerPID != original.ServerPID || decoded.Phase != original.Phase {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
	if !decoded.UpdatedAt.Equal(original.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", decoded.UpdatedAt, original.UpdatedAt)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	record := map[string]any{"phase": "ready", "display": ":1", "attempts": 2}

	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(record)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for the same map")
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	data, err := Marshal(sampleDualRecord{Version: 1, Name: "xorg"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if generic["name"] != "xorg" {
		t.Errorf("generic[name] = %v, want xorg", generic["name"])
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"display": ":2", "phase": "exited", "future_field": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Display != ":2" {
		t.Errorf("Display = %q, want :2", decoded.Display)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleRecord{Display: ":0", Phase: "ready"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"display": ":0"`) {
		t.Errorf("Diagnose = %s, want it to contain the display field", diagnostic)
	}
}
