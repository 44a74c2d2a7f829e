// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "DISPLAY_LAUNCHER_CONFIG"

// Readiness modes.
const (
	// ReadinessDisplayFD passes a pipe as fd 3 and "-displayfd 3" to
	// the server, which writes its display number when it accepts
	// connections.
	ReadinessDisplayFD = "displayfd"

	// ReadinessSignal relies on the server raising SIGUSR1 at its
	// parent because it inherited SIGUSR1 as ignored.
	ReadinessSignal = "signal"
)

// Crash log compression formats.
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionNone = "none"
)

// Config is the complete launcher configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Readiness ReadinessConfig `yaml:"readiness" json:"readiness"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Splash    SplashConfig    `yaml:"splash" json:"splash"`
	State     StateConfig     `yaml:"state" json:"state"`
	CrashLog  CrashLogConfig  `yaml:"crash_log" json:"crash_log"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig describes the display server to launch.
type ServerConfig struct {
	// Candidates are probed in order; the first regular executable
	// file wins.
	Candidates []string `yaml:"candidates" json:"candidates"`

	// Display is an explicit display name such as ":1". Empty lets
	// the server pick one (displayfd mode) or use its default.
	Display string `yaml:"display" json:"display"`

	// VT is the virtual terminal number. Zero means "use XDG_VTNR".
	VT int `yaml:"vt" json:"vt"`

	// Seat is the logind seat. Empty means "use XDG_SEAT".
	Seat string `yaml:"seat" json:"seat"`

	// AuthFile is passed as -auth.
	AuthFile string `yaml:"auth_file" json:"auth_file"`

	// LogFile is passed as -logfile unless the server binary is
	// setuid root.
	LogFile string `yaml:"log_file" json:"log_file"`

	// ExtraOptions is split on whitespace and appended verbatim.
	ExtraOptions string `yaml:"extra_options" json:"extra_options"`

	// Arguments are appended after ExtraOptions.
	Arguments []string `yaml:"arguments" json:"arguments"`
}

// ReadinessConfig controls how long the launcher waits for the server.
type ReadinessConfig struct {
	Mode     string   `yaml:"mode" json:"mode"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
	Attempts int      `yaml:"attempts" json:"attempts"`
}

// SessionConfig describes the optional secondary session process.
type SessionConfig struct {
	// Command is started once the server is ready. Empty disables the
	// secondary child.
	Command []string `yaml:"command" json:"command"`

	// Critical stops the server when the session exits first.
	Critical bool `yaml:"critical" json:"critical"`

	// StopTimeout is how long the session gets between SIGTERM and
	// SIGKILL when the server exits first.
	StopTimeout Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// SplashConfig controls the boot splash handoff.
type SplashConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	Plymouth         string   `yaml:"plymouth" json:"plymouth"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	SnapshotRoot     bool     `yaml:"snapshot_root" json:"snapshot_root"`
	SnapshotAttempts int      `yaml:"snapshot_attempts" json:"snapshot_attempts"`
	SnapshotInterval Duration `yaml:"snapshot_interval" json:"snapshot_interval"`
}

// StateConfig locates the per-display session state files.
type StateConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// CrashLogConfig controls preservation of server logs after abnormal
// exits. An empty Dir disables it.
type CrashLogConfig struct {
	Dir         string `yaml:"dir" json:"dir"`
	Compression string `yaml:"compression" json:"compression"`
	Keep        int    `yaml:"keep" json:"keep"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	// Format is "auto", "text" or "json".
	Format string `yaml:"format" json:"format"`

	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" json:"level"`
}

// Default returns a Config with every field populated.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Candidates: []string{"/usr/bin/Xorg", "/usr/bin/X"},
			LogFile:    "${HOME}/.local/share/xorg/Xorg.log",
			Arguments:  []string{"-nolisten", "tcp", "-noreset"},
		},
		Readiness: ReadinessConfig{
			Mode:     ReadinessDisplayFD,
			Timeout:  Duration(10 * time.Second),
			Attempts: 3,
		},
		Session: SessionConfig{
			StopTimeout: Duration(5 * time.Second),
		},
		Splash: SplashConfig{
			Enabled:          true,
			Plymouth:         "/bin/plymouth",
			Timeout:          Duration(5 * time.Second),
			SnapshotAttempts: 5,
			SnapshotInterval: Duration(200 * time.Millisecond),
		},
		State: StateConfig{
			Dir: "${XDG_RUNTIME_DIR:-/run}/display-launcher",
		},
		CrashLog: CrashLogConfig{
			Compression: CompressionZstd,
			Keep:        5,
		},
		Logging: LoggingConfig{
			Format: "auto",
			Level:  "info",
		},
	}
}

// Load loads configuration from path, or from the file named by
// DISPLAY_LAUNCHER_CONFIG when path is empty. With neither, it returns
// the expanded defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path on top of
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// loadFile decodes a single file into c. Slices in the file replace
// the default slices rather than appending to them.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		return decoder.Decode(c)
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		err := decoder.Decode(c)
		if errors.Is(err, io.EOF) {
			// An empty file is a valid "all defaults" config.
			return nil
		}
		return err
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	for i, candidate := range c.Server.Candidates {
		c.Server.Candidates[i] = expandVars(candidate, vars)
	}
	c.Server.AuthFile = expandVars(c.Server.AuthFile, vars)
	c.Server.LogFile = expandVars(c.Server.LogFile, vars)
	c.Splash.Plymouth = expandVars(c.Splash.Plymouth, vars)
	c.State.Dir = expandVars(c.State.Dir, vars)
	c.CrashLog.Dir = expandVars(c.CrashLog.Dir, vars)
	for i, word := range c.Session.Command {
		c.Session.Command[i] = expandVars(word, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// vars before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors and reports all of
// them at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Server.Candidates) == 0 {
		errs = append(errs, fmt.Errorf("server.candidates must name at least one executable"))
	}
	for _, candidate := range c.Server.Candidates {
		if !filepath.IsAbs(candidate) {
			errs = append(errs, fmt.Errorf("server.candidates: %q is not an absolute path", candidate))
		}
	}

	readinessModes := []string{ReadinessDisplayFD, ReadinessSignal}
	if !slices.Contains(readinessModes, c.Readiness.Mode) {
		errs = append(errs, fmt.Errorf("readiness.mode must be one of: %v", readinessModes))
	}
	if c.Readiness.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("readiness.timeout must be positive"))
	}
	if c.Readiness.Attempts < 1 {
		errs = append(errs, fmt.Errorf("readiness.attempts must be at least 1"))
	}

	if c.Session.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.stop_timeout must be positive"))
	}
	if c.Session.Critical && len(c.Session.Command) == 0 {
		errs = append(errs, fmt.Errorf("session.critical is set but session.command is empty"))
	}

	if c.Splash.Enabled {
		if c.Splash.Plymouth == "" {
			errs = append(errs, fmt.Errorf("splash.plymouth is required when splash is enabled"))
		}
		if c.Splash.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("splash.timeout must be positive"))
		}
	}
	if c.Splash.SnapshotRoot && c.Splash.SnapshotAttempts < 1 {
		errs = append(errs, fmt.Errorf("splash.snapshot_attempts must be at least 1"))
	}

	if c.State.Dir == "" {
		errs = append(errs, fmt.Errorf("state.dir is required"))
	}

	compressions := []string{CompressionZstd, CompressionLZ4, CompressionNone}
	if !slices.Contains(compressions, c.CrashLog.Compression) {
		errs = append(errs, fmt.Errorf("crash_log.compression must be one of: %v", compressions))
	}
	if c.CrashLog.Dir != "" && c.CrashLog.Keep < 1 {
		errs = append(errs, fmt.Errorf("crash_log.keep must be at least 1"))
	}

	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", formats))
	}
	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", levels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the state directory and, when enabled, the
// crash log directory.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.State.Dir, c.CrashLog.Dir} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
