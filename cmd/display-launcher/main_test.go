// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
	"github.com/bureau-foundation/displaylauncher/lib/config"
	"github.com/bureau-foundation/displaylauncher/lib/crashlog"
	"github.com/bureau-foundation/displaylauncher/lib/launch"
	"github.com/bureau-foundation/displaylauncher/lib/logging"
	"github.com/bureau-foundation/displaylauncher/lib/sessionstate"
	"github.com/bureau-foundation/displaylauncher/lib/supervisor"
	"github.com/bureau-foundation/displaylauncher/lib/testutil"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func clearEnvironment(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvironmentVariable, "")
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("XDG_VTNR", "")
	t.Setenv("XDG_SEAT", "")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnvironment(t)

	cfg, err := loadConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Readiness.Mode != config.ReadinessDisplayFD {
		t.Errorf("readiness mode = %q, want displayfd", cfg.Readiness.Mode)
	}
	if cfg.Readiness.Timeout.Std() != 10*time.Second || cfg.Readiness.Attempts != 3 {
		t.Errorf("readiness policy = %v x %d, want 10s x 3", cfg.Readiness.Timeout, cfg.Readiness.Attempts)
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	clearEnvironment(t)
	path := writeFile(t, filepath.Join(t.TempDir(), "launcher.yaml"), `
server:
  display: ":3"
  seat: seat1
  arguments: ["-nolisten", "tcp"]
readiness:
  timeout: 20s
  attempts: 2
logging:
  level: warn
`)

	cfg, err := loadConfig([]string{
		"--config", path,
		"--display", ":5",
		"--vt", "2",
		"--readiness", "signal",
		"--timeout", "2s",
		"--", "-dpi", "96",
	}, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Display != ":5" {
		t.Errorf("display = %q, want the flag's :5", cfg.Server.Display)
	}
	if cfg.Server.Seat != "seat1" {
		t.Errorf("seat = %q, want the file's seat1", cfg.Server.Seat)
	}
	if cfg.Server.VT != 2 {
		t.Errorf("vt = %d, want 2", cfg.Server.VT)
	}
	if cfg.Readiness.Mode != config.ReadinessSignal || cfg.Readiness.Timeout.Std() != 2*time.Second {
		t.Errorf("readiness = %+v", cfg.Readiness)
	}
	if cfg.Readiness.Attempts != 2 {
		t.Errorf("attempts = %d, want the file's 2", cfg.Readiness.Attempts)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want the file's warn", cfg.Logging.Level)
	}
	wantArguments := []string{"-nolisten", "tcp", "-dpi", "96"}
	if !slices.Equal(cfg.Server.Arguments, wantArguments) {
		t.Errorf("arguments = %q, want %q", cfg.Server.Arguments, wantArguments)
	}
}

func TestLoadConfigSessionCriticalNeedsCommand(t *testing.T) {
	clearEnvironment(t)
	_, err := loadConfig([]string{"--session-critical"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "session.critical") {
		t.Fatalf("loadConfig error = %v, want a session.critical validation error", err)
	}
}

func TestLoadConfigInvalidFlags(t *testing.T) {
	clearEnvironment(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"bad readiness", []string{"--readiness", "smoke-signals"}},
		{"bad attempts", []string{"--attempts", "0"}},
		{"bad duration", []string{"--timeout", "soon"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := loadConfig(test.args, io.Discard)
			if err == nil {
				t.Fatalf("loadConfig(%q) = %+v, want error", test.args, cfg)
			}
		})
	}
}

func TestLoadConfigVersionAndHelp(t *testing.T) {
	clearEnvironment(t)
	for _, flag := range []string{"--version", "--help"} {
		var output bytes.Buffer
		cfg, err := loadConfig([]string{flag}, &output)
		if err != nil || cfg != nil {
			t.Errorf("loadConfig(%s) = %v, %v; want nil, nil", flag, cfg, err)
		}
		if !strings.Contains(output.String(), binaryName) {
			t.Errorf("%s printed %q", flag, output.String())
		}
	}
}

func TestRunExecChildRequiresCommand(t *testing.T) {
	for _, args := range [][]string{nil, {"--"}} {
		if err := runExecChild(args); err == nil {
			t.Errorf("runExecChild(%q) succeeded", args)
		}
	}
}

func TestServerLogPath(t *testing.T) {
	program := testutil.Script(t, t.TempDir(), "Xorg", "exit 0")
	resolve := func(logFile string) launch.Spec {
		spec, err := launch.Resolve(launch.Options{
			Candidates: []string{program},
			LogFile:    logFile,
			Getenv:     func(string) string { return "" },
		}, logging.Discard())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		return spec
	}

	if got := serverLogPath(resolve("/home/user/Xorg.log"), ":0"); got != "/home/user/Xorg.log" {
		t.Errorf("with -logfile: %q", got)
	}
	if got := serverLogPath(resolve(""), ":2"); got != "/var/log/Xorg.2.log" {
		t.Errorf("default log for :2: %q", got)
	}
	if got := serverLogPath(resolve(""), ""); got != "" {
		t.Errorf("unknown display: %q, want empty", got)
	}
}

func TestStateRecorder(t *testing.T) {
	directory := t.TempDir()
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	recorder := &stateRecorder{
		store: sessionstate.NewStore(directory),
		record: sessionstate.Record{
			LaunchID:     "5f0c7f1e-0d7e-4d43-8d8e-3d1f0b0a9c11",
			LauncherPID:  os.Getpid(),
			ServerBinary: "/usr/bin/Xorg",
			StartedAt:    fake.Now(),
		},
		clock:  fake,
		logger: logging.Discard(),
	}

	recorder.Update(supervisor.Status{State: supervisor.WaitingForReady, ServerPID: 42})
	if got := filepath.Base(recorder.store.Path()); !strings.HasPrefix(got, "launch-") {
		t.Errorf("state file before display is known = %s", got)
	}

	fake.Advance(time.Second)
	recorder.Update(supervisor.Status{State: supervisor.Running, ServerPID: 42, SessionPID: 43, Display: ":1"})
	record, err := sessionstate.Read(filepath.Join(directory, "display-1.cbor"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Phase != "running" || record.ServerPID != 42 || record.SessionPID != 43 || record.ExitCode != nil {
		t.Errorf("running record = %+v", record)
	}
	if !record.UpdatedAt.Equal(fake.Now()) {
		t.Errorf("updated_at = %v, want %v", record.UpdatedAt, fake.Now())
	}

	recorder.Update(supervisor.Status{State: supervisor.Exited, ServerPID: 42, Display: ":1", ExitCode: 1, ServerReaped: true})
	record, err = sessionstate.Read(recorder.store.Path())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.ExitCode == nil || *record.ExitCode != 1 || record.Phase != "exited" {
		t.Errorf("exited record = %+v", record)
	}
	entries, err := os.ReadDir(directory)
	if err != nil || len(entries) != 1 {
		t.Errorf("state directory holds %d entries (err %v), want 1", len(entries), err)
	}
}

func TestStatusPrintsRecords(t *testing.T) {
	clearEnvironment(t)
	directory := t.TempDir()
	stateDir := filepath.Join(directory, "state")
	if err := os.Mkdir(stateDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, filepath.Join(directory, "launcher.yaml"), "state:\n  dir: "+stateDir+"\n")

	store := sessionstate.NewStore(stateDir)
	if err := store.Write(sessionstate.Record{
		LaunchID:     "0d9a3f0e-7a55-4c1e-9b7e-0c3c2f1d8e55",
		LauncherPID:  os.Getpid(),
		Phase:        "running",
		Display:      ":0",
		ServerBinary: "/usr/bin/Xorg",
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var output bytes.Buffer
	if err := runStatus([]string{"--config", path}, &output); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(output.Bytes(), &entries); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, output.String())
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["display"] != ":0" || entries[0]["phase"] != "running" || entries[0]["launcher_running"] != true {
		t.Errorf("entry = %v", entries[0])
	}

	output.Reset()
	if err := runStatus([]string{"--config", path, "--raw"}, &output); err != nil {
		t.Fatalf("runStatus --raw: %v", err)
	}
	if !strings.Contains(output.String(), "display-0.cbor") || !strings.Contains(output.String(), `"launch_id"`) {
		t.Errorf("raw output = %q", output.String())
	}
}

func TestStatusEmptyDirectory(t *testing.T) {
	clearEnvironment(t)
	directory := t.TempDir()
	path := writeFile(t, filepath.Join(directory, "launcher.yaml"), "state:\n  dir: "+filepath.Join(directory, "missing")+"\n")

	var output bytes.Buffer
	if err := runStatus([]string{"--config", path}, &output); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if strings.TrimSpace(output.String()) != "[]" {
		t.Errorf("output = %q, want []", output.String())
	}
}

// launcherConfig writes a config that launches a fake server running
// body, with state and crash logs under directory.
func launcherConfig(t *testing.T, directory, body string) *config.Config {
	t.Helper()
	clearEnvironment(t)

	program := testutil.Script(t, directory, "Xorg", body)
	path := writeFile(t, filepath.Join(directory, "launcher.yaml"), `
server:
  candidates: ["`+program+`"]
  log_file: `+filepath.Join(directory, "server.log")+`
  arguments: []
readiness:
  timeout: 5s
  attempts: 1
splash:
  enabled: false
state:
  dir: `+filepath.Join(directory, "state")+`
crash_log:
  dir: `+filepath.Join(directory, "crash")+`
  compression: lz4
  keep: 2
logging:
  format: json
  level: debug
`)
	cfg, err := loadConfig([]string{"--config", path}, io.Discard)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	return cfg
}

func TestLaunchDisplayPreservesCrashLog(t *testing.T) {
	directory := t.TempDir()
	logPath := filepath.Join(directory, "server.log")
	cfg := launcherConfig(t, directory,
		`echo "(EE) no screens found" > `+logPath+`; echo 9 >&3; sleep 0.2; exit 3`)

	var logs bytes.Buffer
	err := launchDisplay(cfg, &logs)
	var code exitCode
	if !errors.As(err, &code) || code.ExitCode() != 3 {
		t.Fatalf("launchDisplay = %v, want exit code 3\n%s", err, logs.String())
	}

	records, err := sessionstate.List(filepath.Join(directory, "state"))
	if err != nil || len(records) != 1 {
		t.Fatalf("state records = %+v, %v; want one", records, err)
	}
	record := records[0]
	if record.Display != ":9" || record.Phase != "exited" || record.ExitCode == nil || *record.ExitCode != 3 {
		t.Errorf("state record = %+v", record)
	}
	if len(record.ServerHash) != 64 {
		t.Errorf("server hash = %q, want 64 hex digits", record.ServerHash)
	}

	archive, err := crashlog.New(filepath.Join(directory, "crash"), crashlog.LZ4, 2, clock.Real(), logging.Discard())
	if err != nil {
		t.Fatalf("crashlog.New: %v", err)
	}
	archives, err := archive.List()
	if err != nil || len(archives) != 1 {
		t.Fatalf("crash archives = %q, %v; want one", archives, err)
	}
	if !strings.Contains(filepath.Base(archives[0]), record.LaunchID) {
		t.Errorf("archive %s is not named by launch id %s", archives[0], record.LaunchID)
	}
	reader, err := crashlog.Open(archives[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	if !strings.Contains(string(content), "no screens found") {
		t.Errorf("archived log = %q", content)
	}
}

func TestLaunchDisplayCleanExitRemovesState(t *testing.T) {
	directory := t.TempDir()
	cfg := launcherConfig(t, directory, `echo 9 >&3; sleep 0.2; exit 0`)

	var logs bytes.Buffer
	if err := launchDisplay(cfg, &logs); err != nil {
		t.Fatalf("launchDisplay: %v\n%s", err, logs.String())
	}

	entries, err := os.ReadDir(filepath.Join(directory, "state"))
	if err != nil {
		t.Fatalf("reading state dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("state dir holds %d files after a clean exit", len(entries))
	}
	if entries, _ := os.ReadDir(filepath.Join(directory, "crash")); len(entries) != 0 {
		t.Errorf("crash log preserved after a clean exit")
	}
}

func TestLaunchDisplayExecutableNotFound(t *testing.T) {
	directory := t.TempDir()
	cfg := launcherConfig(t, directory, "exit 0")
	cfg.Server.Candidates = []string{filepath.Join(directory, "missing")}

	err := launchDisplay(cfg, io.Discard)
	if !errors.Is(err, launch.ErrExecutableNotFound) {
		t.Fatalf("launchDisplay = %v, want ErrExecutableNotFound", err)
	}
}
