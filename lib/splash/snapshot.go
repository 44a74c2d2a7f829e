// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package splash

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// Root window properties that advertise the background pixmap.
var backgroundAtoms = []string{"_XROOTPMAP_ID", "ESETROOT_PMAP_ID"}

// rootConn is the part of an X connection the snapshot needs.
type rootConn interface {
	// PublishRootSnapshot copies the root window into a retained
	// pixmap and advertises it. Returns the pixmap id.
	PublishRootSnapshot() (uint32, error)
	Close()
}

// Snapshotter publishes a copy of the root window as the background.
type Snapshotter struct {
	clock    clock.Clock
	authFile string
	attempts int
	interval time.Duration
	logger   *slog.Logger
	connect  func(display, authFile string) (rootConn, error)
}

// NewSnapshotter returns a Snapshotter that tries to connect up to
// attempts times, interval apart. authFile is the authority file the
// server was started with (its -auth argument); empty means the
// launcher's own XAUTHORITY or ~/.Xauthority.
func NewSnapshotter(clk clock.Clock, authFile string, attempts int, interval time.Duration, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		clock:    clk,
		authFile: authFile,
		attempts: max(attempts, 1),
		interval: interval,
		logger:   logger,
		connect:  dialX,
	}
}

// SnapshotRootWindow connects to display and publishes the root window
// snapshot. The error is for logging; callers continue either way.
func (s *Snapshotter) SnapshotRootWindow(ctx context.Context, display string) error {
	var conn rootConn
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		conn, err = s.connect(display, s.authFile)
		if err == nil {
			break
		}
		s.logger.Debug("display not accepting connections yet",
			"display", display,
			"attempt", attempt,
			"error", err,
		)
		if attempt == s.attempts {
			return fmt.Errorf("connecting to %s after %d attempts: %w", display, s.attempts, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.interval):
		}
	}
	defer conn.Close()

	pixmap, err := conn.PublishRootSnapshot()
	if err != nil {
		return fmt.Errorf("snapshotting root window of %s: %w", display, err)
	}
	s.logger.Info("published root window snapshot", "display", display, "pixmap", pixmap)
	return nil
}

type xConn struct {
	conn *xgb.Conn
}

func dialX(display, authFile string) (rootConn, error) {
	var conn *xgb.Conn
	err := withAuthority(authFile, func() error {
		var err error
		conn, err = xgb.NewConnDisplay(display)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &xConn{conn: conn}, nil
}

// authorityMu serializes XAUTHORITY swaps; xgb reads the cookie
// location only from the environment.
var authorityMu sync.Mutex

// withAuthority runs dial with XAUTHORITY pointing at authFile, then
// restores the previous value. An empty authFile leaves the
// environment alone.
func withAuthority(authFile string, dial func() error) error {
	if authFile == "" {
		return dial()
	}
	authorityMu.Lock()
	defer authorityMu.Unlock()

	previous, had := os.LookupEnv("XAUTHORITY")
	if err := os.Setenv("XAUTHORITY", authFile); err != nil {
		return fmt.Errorf("pointing XAUTHORITY at %s: %w", authFile, err)
	}
	defer func() {
		if had {
			os.Setenv("XAUTHORITY", previous)
		} else {
			os.Unsetenv("XAUTHORITY")
		}
	}()
	return dial()
}

func (x *xConn) Close() { x.conn.Close() }

func (x *xConn) PublishRootSnapshot() (uint32, error) {
	screen := xproto.Setup(x.conn).DefaultScreen(x.conn)
	if screen == nil {
		return 0, errors.New("server reported no screens")
	}
	root := screen.Root
	width, height := screen.WidthInPixels, screen.HeightInPixels

	pixmap, err := xproto.NewPixmapId(x.conn)
	if err != nil {
		return 0, fmt.Errorf("allocating pixmap id: %w", err)
	}
	if err := xproto.CreatePixmapChecked(x.conn, screen.RootDepth, pixmap, xproto.Drawable(root), width, height).Check(); err != nil {
		return 0, fmt.Errorf("creating pixmap: %w", err)
	}

	gc, err := xproto.NewGcontextId(x.conn)
	if err != nil {
		return 0, fmt.Errorf("allocating graphics context id: %w", err)
	}
	if err := xproto.CreateGCChecked(x.conn, gc, xproto.Drawable(root),
		xproto.GcSubwindowMode, []uint32{xproto.SubwindowModeIncludeInferiors}).Check(); err != nil {
		return 0, fmt.Errorf("creating graphics context: %w", err)
	}
	copyErr := xproto.CopyAreaChecked(x.conn, xproto.Drawable(root), xproto.Drawable(pixmap), gc,
		0, 0, 0, 0, width, height).Check()
	xproto.FreeGC(x.conn, gc)
	if copyErr != nil {
		return 0, fmt.Errorf("copying root window: %w", copyErr)
	}

	value := make([]byte, 4)
	xgb.Put32(value, uint32(pixmap))
	for _, name := range backgroundAtoms {
		reply, err := xproto.InternAtom(x.conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			return 0, fmt.Errorf("interning %s: %w", name, err)
		}
		if err := xproto.ChangePropertyChecked(x.conn, xproto.PropModeReplace, root, reply.Atom,
			xproto.AtomPixmap, 32, 1, value).Check(); err != nil {
			return 0, fmt.Errorf("setting %s: %w", name, err)
		}
	}

	// Keep the pixmap after this connection closes.
	if err := xproto.SetCloseDownModeChecked(x.conn, xproto.CloseDownRetainPermanent).Check(); err != nil {
		return 0, fmt.Errorf("setting close-down mode: %w", err)
	}
	return uint32(pixmap), nil
}
