// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrExecutableNotFound is returned by Resolve when no candidate is a
// regular executable file.
var ErrExecutableNotFound = errors.New("no display server executable found")

// MaxVT is the exclusive upper bound on virtual terminal numbers.
const MaxVT = 64

var seatPattern = regexp.MustCompile(`^seat[A-Za-z0-9_-]*$`)

// Options are the inputs to Resolve. Zero values mean "absent".
type Options struct {
	// Candidates are probed in order.
	Candidates []string

	Display      string
	VT           int
	Seat         string
	AuthFile     string
	LogFile      string
	ExtraOptions string
	Arguments    []string

	// Getenv reads XDG_VTNR and XDG_SEAT. Defaults to os.Getenv.
	Getenv func(string) string
}

// Spec is a fully resolved server launch. It is immutable: accessors
// return copies.
type Spec struct {
	program       string
	display       string
	seat          string
	authFile      string
	logFile       string
	extraOptions  []string
	arguments     []string
	vt            int
	readinessArgs []string
	setuid        bool
	argv          []string
}

// Resolve locates the server and assembles its argument vector. Invalid
// VT or seat values are logged and dropped; only a missing executable
// is an error.
func Resolve(options Options, logger *slog.Logger) (Spec, error) {
	getenv := options.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	program, info, err := probe(options.Candidates, logger)
	if err != nil {
		return Spec{}, err
	}

	spec := Spec{
		program:      program,
		display:      options.Display,
		seat:         resolveSeat(options.Seat, getenv, logger),
		authFile:     options.AuthFile,
		extraOptions: strings.Fields(options.ExtraOptions),
		arguments:    slices.Clone(options.Arguments),
		vt:           resolveVT(options.VT, getenv, logger),
		setuid:       info.Mode()&os.ModeSetuid != 0,
	}

	if options.LogFile != "" {
		if spec.setuid {
			logger.Warn("server is setuid, not passing -logfile",
				"server", program,
				"log_file", options.LogFile,
			)
		} else {
			spec.logFile = options.LogFile
		}
	}

	spec.argv = spec.assemble()
	return spec, nil
}

// probe returns the first candidate that is a regular file the caller
// may execute.
func probe(candidates []string, logger *slog.Logger) (string, os.FileInfo, error) {
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			logger.Debug("server candidate unavailable", "path", candidate, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			logger.Debug("server candidate is not a regular file", "path", candidate, "mode", info.Mode().String())
			continue
		}
		if err := unix.Access(candidate, unix.X_OK); err != nil {
			logger.Debug("server candidate is not executable", "path", candidate, "error", err)
			continue
		}
		return candidate, info, nil
	}
	return "", nil, fmt.Errorf("%w (checked %s)", ErrExecutableNotFound, strings.Join(candidates, ", "))
}

// resolveVT returns a VT in (0, MaxVT), or 0 when absent or invalid.
func resolveVT(option int, getenv func(string) string, logger *slog.Logger) int {
	if option != 0 {
		if option > 0 && option < MaxVT {
			return option
		}
		logger.Warn("ignoring out of range VT", "vt", option)
		return 0
	}

	value := getenv("XDG_VTNR")
	if value == "" {
		return 0
	}
	vt, err := strconv.Atoi(value)
	if err != nil || vt <= 0 || vt >= MaxVT {
		logger.Warn("ignoring invalid XDG_VTNR", "value", value)
		return 0
	}
	return vt
}

func resolveSeat(option string, getenv func(string) string, logger *slog.Logger) string {
	seat := option
	source := "seat option"
	if seat == "" {
		seat = getenv("XDG_SEAT")
		source = "XDG_SEAT"
	}
	if seat == "" {
		return ""
	}
	if !seatPattern.MatchString(seat) {
		logger.Warn("ignoring invalid seat name", "source", source, "value", seat)
		return ""
	}
	return seat
}

func (s Spec) assemble() []string {
	argv := []string{s.program}
	if s.display != "" {
		argv = append(argv, s.display)
	}
	if s.seat != "" {
		argv = append(argv, "-seat", s.seat)
	}
	if s.authFile != "" {
		argv = append(argv, "-auth", s.authFile)
	}
	if s.logFile != "" {
		argv = append(argv, "-logfile", s.logFile)
	}
	argv = append(argv, s.readinessArgs...)
	argv = append(argv, s.extraOptions...)
	argv = append(argv, s.arguments...)
	if s.vt != 0 {
		argv = append(argv, "vt"+strconv.Itoa(s.vt))
	}
	return argv
}

// WithReadiness returns a copy of s whose argument vector carries the
// readiness channel's arguments after the auth and log file options.
func (s Spec) WithReadiness(args []string) Spec {
	s.readinessArgs = slices.Clone(args)
	s.argv = s.assemble()
	return s
}

// Program is the resolved executable path.
func (s Spec) Program() string { return s.program }

// Argv returns a copy of the argument vector, program first.
func (s Spec) Argv() []string { return slices.Clone(s.argv) }

// Display is the explicit display argument, if any.
func (s Spec) Display() string { return s.display }

// VT is the validated virtual terminal, or 0.
func (s Spec) VT() int { return s.vt }

// Seat is the validated seat name, if any.
func (s Spec) Seat() string { return s.seat }

// AuthFile is the -auth argument, if any.
func (s Spec) AuthFile() string { return s.authFile }

// LogFile is the -logfile argument actually passed, if any.
func (s Spec) LogFile() string { return s.logFile }

// Setuid reports whether the server binary has the setuid bit.
func (s Spec) Setuid() bool { return s.setuid }
