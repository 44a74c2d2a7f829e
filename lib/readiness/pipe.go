// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package readiness

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
)

// DisplayFD is the descriptor number the server sees the pipe on.
const DisplayFD = 3

// Pipe is the displayfd readiness strategy.
type Pipe struct {
	clock      clock.Clock
	interrupts <-chan os.Signal

	reader  *os.File
	release func()
	results chan pipeResult
	hungUp  bool
	detail  string
}

type pipeResult struct {
	display string
	err     error
}

// NewPipe returns an unarmed displayfd channel. interrupts may be nil.
func NewPipe(clk clock.Clock, interrupts <-chan os.Signal) *Pipe {
	return &Pipe{clock: clk, interrupts: interrupts}
}

// Arm creates a fresh pipe. The returned attachment passes its write
// end to the server as fd 3.
func (p *Pipe) Arm() (Attachment, error) {
	p.Close()

	reader, writer, err := os.Pipe()
	if err != nil {
		return Attachment{}, fmt.Errorf("creating displayfd pipe: %w", err)
	}

	p.reader = reader
	p.release = onceRelease(writer)
	p.results = make(chan pipeResult, 1)
	p.hungUp = false
	p.detail = ""

	go readDisplay(reader, p.results)

	return Attachment{
		Args:    []string{"-displayfd", strconv.Itoa(DisplayFD)},
		Files:   []*os.File{writer},
		release: p.release,
	}, nil
}

// readDisplay reads the first line the server writes. The server
// writes the bare display number followed by a newline.
func readDisplay(reader io.Reader, results chan<- pipeResult) {
	line, err := bufio.NewReader(reader).ReadString('\n')
	display := strings.TrimSpace(line)
	if display != "" {
		results <- pipeResult{display: display}
		return
	}
	if err == nil {
		err = fmt.Errorf("server wrote an empty display number")
	}
	results <- pipeResult{err: err}
}

// Wait implements Channel. A hang-up without a display number is
// reported as a single Interrupted with a nil signal so the caller can
// check whether the server died; later waits ignore the pipe.
func (p *Pipe) Wait(deadline time.Time) (Outcome, os.Signal) {
	timer := waitTimer(p.clock, deadline)
	if timer == nil {
		return TimedOut, nil
	}
	defer timer.Stop()

	results := p.results
	if p.hungUp {
		results = nil
	}

	select {
	case result := <-results:
		if result.err != nil {
			p.hungUp = true
			return Interrupted, nil
		}
		p.detail = ":" + result.display
		return Ready, nil
	case sig := <-p.interrupts:
		return Interrupted, sig
	case <-timer.C:
		return TimedOut, nil
	}
}

// Detail returns the display name the server reported, such as ":0".
func (p *Pipe) Detail() string { return p.detail }

// Close releases both ends of the pipe.
func (p *Pipe) Close() error {
	if p.release != nil {
		p.release()
		p.release = nil
	}
	if p.reader != nil {
		err := p.reader.Close()
		p.reader = nil
		return err
	}
	return nil
}
