// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/displaylauncher/lib/binhash"
	"github.com/bureau-foundation/displaylauncher/lib/clock"
	"github.com/bureau-foundation/displaylauncher/lib/config"
	"github.com/bureau-foundation/displaylauncher/lib/crashlog"
	"github.com/bureau-foundation/displaylauncher/lib/launch"
	"github.com/bureau-foundation/displaylauncher/lib/logging"
	"github.com/bureau-foundation/displaylauncher/lib/readiness"
	"github.com/bureau-foundation/displaylauncher/lib/sdnotify"
	"github.com/bureau-foundation/displaylauncher/lib/sessionstate"
	"github.com/bureau-foundation/displaylauncher/lib/splash"
	"github.com/bureau-foundation/displaylauncher/lib/supervisor"
)

// launchDisplay runs one supervised display server described by cfg.
// A non-zero server exit is returned as an exitCode error.
func launchDisplay(cfg *config.Config, stderr io.Writer) error {
	logger, err := logging.New(cfg.Logging.Format, cfg.Logging.Level, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	arguments := cfg.Server.Arguments
	if cfg.Splash.Enabled {
		// Keeps the splash's last frame on screen until something
		// draws over it.
		arguments = append([]string{"-background", "none"}, arguments...)
	}
	spec, err := launch.Resolve(launch.Options{
		Candidates:   cfg.Server.Candidates,
		Display:      cfg.Server.Display,
		VT:           cfg.Server.VT,
		Seat:         cfg.Server.Seat,
		AuthFile:     cfg.Server.AuthFile,
		LogFile:      cfg.Server.LogFile,
		ExtraOptions: cfg.Server.ExtraOptions,
		Arguments:    arguments,
		Getenv:       os.Getenv,
	}, logger)
	if err != nil {
		return err
	}

	clk := clock.Real()
	record := sessionstate.Record{
		LaunchID:     sessionstate.NewLaunchID(),
		LauncherPID:  os.Getpid(),
		Display:      spec.Display(),
		VT:           spec.VT(),
		ServerBinary: spec.Program(),
		StartedAt:    clk.Now().UTC(),
	}
	if digest, err := binhash.HashFile(spec.Program()); err != nil {
		logger.Warn("hashing server binary failed", "path", spec.Program(), "error", err)
	} else {
		record.ServerHash = binhash.FormatDigest(digest)
	}
	logger.Info("launching display server",
		"launch_id", record.LaunchID,
		"server", spec.Program(),
		"server_hash", record.ServerHash,
		"vt", spec.VT(),
		"seat", spec.Seat(),
	)

	// Registered before the readiness channel is armed, so nothing
	// the server or the service manager sends is lost.
	signals, stopSignals := supervisor.NotifySignals()
	defer stopSignals()

	channel, starter, err := readinessStrategy(cfg.Readiness.Mode, clk, signals)
	if err != nil {
		return err
	}

	recorder := &stateRecorder{
		store:  sessionstate.NewStore(cfg.State.Dir),
		record: record,
		clock:  clk,
		logger: logger,
	}

	notifier := sdnotify.New(logger)
	supervisorConfig := supervisor.Config{
		Spec:    spec,
		Channel: channel,
		Starter: starter,
		Policy: readiness.Policy{
			Timeout:  cfg.Readiness.Timeout.Std(),
			Attempts: cfg.Readiness.Attempts,
		},
		Signals: signals,
		Session: supervisor.Session{
			Command:     cfg.Session.Command,
			Critical:    cfg.Session.Critical,
			StopTimeout: cfg.Session.StopTimeout.Std(),
			Stdout:      os.Stdout,
			Stderr:      os.Stderr,
		},
		Notifier:         notifier,
		WatchdogInterval: notifier.WatchdogInterval(),
		OnChange:         recorder.Update,
		Clock:            clk,
		Logger:           logger,
	}
	if cfg.Splash.Enabled {
		supervisorConfig.Splash = splash.NewPlymouth(cfg.Splash.Plymouth, cfg.Splash.Timeout.Std(), logger)
		if cfg.Splash.SnapshotRoot {
			supervisorConfig.Snapshotter = splash.NewSnapshotter(clk, spec.AuthFile(),
				cfg.Splash.SnapshotAttempts, cfg.Splash.SnapshotInterval.Std(), logger)
		}
	}

	displaySupervisor, err := supervisor.New(supervisorConfig)
	if err != nil {
		return err
	}

	code, runErr := displaySupervisor.Run(context.Background())
	final := displaySupervisor.Status()

	switch {
	case !final.ServerReaped:
		// Timed out or never started; the state file records why.
	case code == 0:
		if err := recorder.store.Remove(); err != nil {
			logger.Warn("removing session state failed", "error", err)
		}
	default:
		preserveCrashLog(cfg.CrashLog, serverLogPath(spec, final.Display), record.LaunchID, clk, logger)
	}

	if runErr != nil {
		return runErr
	}
	if code != 0 {
		return exitCode(code)
	}
	return nil
}

// readinessStrategy builds the readiness channel for mode and a
// starter that can satisfy its attachment.
func readinessStrategy(mode string, clk clock.Clock, signals <-chan os.Signal) (readiness.Channel, launch.Starter, error) {
	switch mode {
	case config.ReadinessDisplayFD:
		return readiness.NewPipe(clk, signals), launch.DirectStarter{Stdout: os.Stdout, Stderr: os.Stderr}, nil
	case config.ReadinessSignal:
		executable, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locating %s for the exec-child helper: %w", binaryName, err)
		}
		starter := launch.HelperStarter{Executable: executable, Stdout: os.Stdout, Stderr: os.Stderr}
		return readiness.NewSignal(clk, signals), starter, nil
	default:
		return nil, nil, fmt.Errorf("unknown readiness mode %q", mode)
	}
}

// serverLogPath returns where the server writes its log: the -logfile
// argument when one was passed, otherwise Xorg's per-display default.
func serverLogPath(spec launch.Spec, display string) string {
	if spec.LogFile() != "" {
		return spec.LogFile()
	}
	number, ok := strings.CutPrefix(display, ":")
	if !ok || number == "" {
		return ""
	}
	return filepath.Join("/var/log", "Xorg."+number+".log")
}

func preserveCrashLog(cfg config.CrashLogConfig, logPath, launchID string, clk clock.Clock, logger *slog.Logger) {
	if cfg.Dir == "" || logPath == "" {
		return
	}
	compression, err := crashlog.ParseCompression(cfg.Compression)
	if err != nil {
		logger.Warn("crash log preservation disabled", "error", err)
		return
	}
	archive, err := crashlog.New(cfg.Dir, compression, cfg.Keep, clk, logger)
	if err != nil {
		logger.Warn("crash log preservation disabled", "error", err)
		return
	}
	path, err := archive.Preserve(logPath, launchID)
	if err != nil {
		logger.Warn("preserving server log failed", "log", logPath, "error", err)
		return
	}
	logger.Info("preserved server log", "log", logPath, "archive", path)
}

// stateRecorder mirrors supervisor status changes into the session
// state file.
type stateRecorder struct {
	store  *sessionstate.Store
	record sessionstate.Record
	clock  clock.Clock
	logger *slog.Logger
}

// Update implements supervisor.Config.OnChange.
func (r *stateRecorder) Update(status supervisor.Status) {
	r.record.Phase = status.State.String()
	r.record.ServerPID = status.ServerPID
	r.record.SessionPID = status.SessionPID
	if status.Display != "" {
		r.record.Display = status.Display
	}
	if status.State == supervisor.Stopping || status.State == supervisor.Exited {
		code := status.ExitCode
		r.record.ExitCode = &code
	}
	r.record.UpdatedAt = r.clock.Now().UTC()

	if err := r.store.Write(r.record); err != nil {
		r.logger.Warn("writing session state failed", "error", err)
	}
}
