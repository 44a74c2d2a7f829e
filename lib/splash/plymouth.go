// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package splash

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultPlymouthBinary is where distributions install the control
// binary.
const DefaultPlymouthBinary = "/bin/plymouth"

// Plymouth controls a running plymouthd through its client binary.
type Plymouth struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
	run     func(ctx context.Context, binary string, args ...string) error
}

// NewPlymouth returns a controller for binary. Each command is given
// at most timeout to complete.
func NewPlymouth(binary string, timeout time.Duration, logger *slog.Logger) *Plymouth {
	return &Plymouth{binary: binary, timeout: timeout, logger: logger, run: runCommand}
}

func runCommand(ctx context.Context, binary string, args ...string) error {
	output, err := exec.CommandContext(ctx, binary, args...).CombinedOutput()
	if err != nil {
		if text := strings.TrimSpace(string(output)); text != "" {
			return fmt.Errorf("%w: %s", err, text)
		}
		return err
	}
	return nil
}

func (p *Plymouth) command(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.run(ctx, p.binary, args...)
}

// IsActive reports whether plymouthd answers a ping. It has no side
// effects on the splash.
func (p *Plymouth) IsActive(ctx context.Context) bool {
	if err := p.command(ctx, "--ping"); err != nil {
		p.logger.Debug("boot splash not running", "binary", p.binary, "error", err)
		return false
	}
	return true
}

// Deactivate stops the splash from drawing while it keeps ownership of
// its last frame.
func (p *Plymouth) Deactivate(ctx context.Context) {
	if err := p.command(ctx, "deactivate"); err != nil {
		p.logger.Warn("could not deactivate boot splash", "binary", p.binary, "error", err)
	}
}

// QuitWithTransition makes the splash exit and leave its last frame on
// screen.
func (p *Plymouth) QuitWithTransition(ctx context.Context) {
	if err := p.command(ctx, "quit", "--retain-splash"); err != nil {
		p.logger.Warn("could not quit boot splash", "binary", p.binary, "error", err)
	}
}
