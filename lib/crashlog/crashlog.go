// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crashlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bureau-foundation/displaylauncher/lib/clock"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the archive format.
type Compression string

const (
	None Compression = "none"
	LZ4  Compression = "lz4"
	Zstd Compression = "zstd"
)

// ParseCompression parses a compression name from configuration.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case None, LZ4, Zstd:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown crash log compression %q", name)
	}
}

// Extension is the file suffix for archives in this format.
func (c Compression) Extension() string {
	switch c {
	case LZ4:
		return ".log.lz4"
	case Zstd:
		return ".log.zst"
	default:
		return ".log"
	}
}

const timestampLayout = "20060102T150405Z"

// Archive is a directory of preserved server logs.
type Archive struct {
	directory   string
	compression Compression
	keep        int
	clock       clock.Clock
	logger      *slog.Logger
}

// New returns an Archive writing into directory, which is created if
// needed, and keeping at most keep archives.
func New(directory string, compression Compression, keep int, clk clock.Clock, logger *slog.Logger) (*Archive, error) {
	if keep < 1 {
		return nil, fmt.Errorf("crash log archive must keep at least one file, got %d", keep)
	}
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("creating crash log directory: %w", err)
	}
	return &Archive{
		directory:   directory,
		compression: compression,
		keep:        keep,
		clock:       clk,
		logger:      logger,
	}, nil
}

// Preserve copies logPath into the archive under launchID and prunes
// old archives. Returns the archive path.
func (a *Archive) Preserve(logPath, launchID string) (string, error) {
	source, err := os.Open(logPath)
	if err != nil {
		return "", fmt.Errorf("opening server log: %w", err)
	}
	defer source.Close()

	name := a.clock.Now().UTC().Format(timestampLayout) + "-" + launchID + a.compression.Extension()
	path := filepath.Join(a.directory, name)

	destination, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return "", fmt.Errorf("creating crash log archive: %w", err)
	}

	written, err := a.compress(destination, source)
	if closeErr := destination.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("archiving %s: %w", logPath, err)
	}

	a.logger.Info("preserved server log",
		"source", logPath,
		"archive", path,
		"bytes", written,
		"compression", string(a.compression),
	)

	if err := a.prune(); err != nil {
		a.logger.Warn("pruning crash log archive", "directory", a.directory, "error", err)
	}
	return path, nil
}

func (a *Archive) compress(destination io.Writer, source io.Reader) (int64, error) {
	switch a.compression {
	case Zstd:
		encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return 0, err
		}
		written, err := io.Copy(encoder, source)
		if closeErr := encoder.Close(); err == nil {
			err = closeErr
		}
		return written, err
	case LZ4:
		encoder := lz4.NewWriter(destination)
		written, err := io.Copy(encoder, source)
		if closeErr := encoder.Close(); err == nil {
			err = closeErr
		}
		return written, err
	default:
		return io.Copy(destination, source)
	}
}

// prune deletes the oldest archives beyond the keep limit. Names start
// with a UTC timestamp, so lexical order is age order.
func (a *Archive) prune() error {
	archives, err := a.List()
	if err != nil {
		return err
	}
	if len(archives) <= a.keep {
		return nil
	}
	var errs []error
	for _, path := range archives[:len(archives)-a.keep] {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns archive paths, oldest first.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.directory)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		for _, compression := range []Compression{None, LZ4, Zstd} {
			if strings.HasSuffix(name, compression.Extension()) {
				paths = append(paths, filepath.Join(a.directory, name))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Open returns a reader over the decompressed contents of an archive,
// choosing the format from its extension.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, Zstd.Extension()):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		return &readCloser{Reader: decoder, close: func() error {
			decoder.Close()
			return file.Close()
		}}, nil
	case strings.HasSuffix(path, LZ4.Extension()):
		return &readCloser{Reader: lz4.NewReader(file), close: file.Close}, nil
	default:
		return file, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }
