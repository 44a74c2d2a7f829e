// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/config"
	"github.com/bureau-foundation/displaylauncher/lib/launch"
	"github.com/bureau-foundation/displaylauncher/lib/process"
	"github.com/bureau-foundation/displaylauncher/lib/readiness"
	"github.com/bureau-foundation/displaylauncher/lib/version"
	"github.com/spf13/pflag"
)

const binaryName = "display-launcher"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

// exitCode carries the server's exit code out of run. It is not
// printed: the supervisor has already logged the server's exit.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("display server exit code %d", int(e)) }

func (e exitCode) ExitCode() int { return int(e) }

func run(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case launch.HelperCommand:
			return runExecChild(args[1:])
		case "status":
			return runStatus(args[1:], os.Stdout)
		}
	}

	cfg, err := loadConfig(args, os.Stdout)
	if err != nil || cfg == nil {
		return err
	}
	return launchDisplay(cfg, os.Stderr)
}

// runExecChild replaces the process with argv after ignoring the
// readiness signal. It only returns on failure.
func runExecChild(args []string) error {
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		return errors.New(launch.HelperCommand + ": no command given")
	}
	return launch.ExecChild(args, readiness.ReadySignal)
}

// launchFlags are the command-line overrides for the config file.
type launchFlags struct {
	configPath      string
	display         string
	vt              int
	seat            string
	authFile        string
	logFile         string
	extraOptions    string
	readinessMode   string
	timeout         time.Duration
	attempts        int
	sessionCritical bool
	logFormat       string
	logLevel        string
	showVersion     bool
}

// loadConfig parses args, loads the config file and applies the flags
// that were given on top of it. It returns a nil config when --help or
// --version was handled.
func loadConfig(args []string, stdout io.Writer) (*config.Config, error) {
	var flags launchFlags

	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.SetOutput(stdout)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&flags.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&flags.display, "display", "", "display name to start the server on, such as :1")
	flagSet.IntVar(&flags.vt, "vt", 0, "virtual terminal number (default: $XDG_VTNR)")
	flagSet.StringVar(&flags.seat, "seat", "", "logind seat (default: $XDG_SEAT)")
	flagSet.StringVar(&flags.authFile, "auth", "", "X authority file passed to the server as -auth")
	flagSet.StringVar(&flags.logFile, "log-file", "", "server log file passed as -logfile")
	flagSet.StringVar(&flags.extraOptions, "extra-options", "", "whitespace-separated server options appended verbatim")
	flagSet.StringVar(&flags.readinessMode, "readiness", "", "readiness strategy: displayfd or signal")
	flagSet.DurationVar(&flags.timeout, "timeout", 0, "time to wait for the server per attempt")
	flagSet.IntVar(&flags.attempts, "attempts", 0, "readiness attempts before giving up")
	flagSet.BoolVar(&flags.sessionCritical, "session-critical", false, "stop the server when the session command exits")
	flagSet.StringVar(&flags.logFormat, "log-format", "", "log format: auto, text or json")
	flagSet.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.BoolVar(&flags.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil
		}
		return nil, err
	}
	if flags.showVersion {
		version.Fprint(stdout, binaryName)
		return nil, nil
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		name  string
		apply func()
	}{
		{"display", func() { cfg.Server.Display = flags.display }},
		{"vt", func() { cfg.Server.VT = flags.vt }},
		{"seat", func() { cfg.Server.Seat = flags.seat }},
		{"auth", func() { cfg.Server.AuthFile = flags.authFile }},
		{"log-file", func() { cfg.Server.LogFile = flags.logFile }},
		{"extra-options", func() { cfg.Server.ExtraOptions = flags.extraOptions }},
		{"readiness", func() { cfg.Readiness.Mode = flags.readinessMode }},
		{"timeout", func() { cfg.Readiness.Timeout = config.Duration(flags.timeout) }},
		{"attempts", func() { cfg.Readiness.Attempts = flags.attempts }},
		{"session-critical", func() { cfg.Session.Critical = flags.sessionCritical }},
		{"log-format", func() { cfg.Logging.Format = flags.logFormat }},
		{"log-level", func() { cfg.Logging.Level = flags.logLevel }},
	}
	for _, override := range overrides {
		if flagSet.Changed(override.name) {
			override.apply()
		}
	}
	cfg.Server.Arguments = append(cfg.Server.Arguments, flagSet.Args()...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
