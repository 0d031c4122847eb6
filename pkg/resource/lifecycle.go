// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package resource

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

const (
	tempFilePattern = "as4-*.tmp"
)

// Lifecycle owns the temp files and closeable handles of one exchange.
// It is safe for concurrent use.
type Lifecycle struct {
	mu      sync.Mutex
	files   []string
	closers []io.Closer

	dir    string
	logger *slog.Logger
}

// Option configures a Lifecycle
type Option func(*Lifecycle)

// WithTempDir sets the directory temp files are created in.
// The default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(l *Lifecycle) {
		l.dir = dir
	}
}

// WithLogger sets the logger used for best-effort cleanup failures
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// NewLifecycle creates an empty lifecycle
func NewLifecycle(opts ...Option) *Lifecycle {
	l := &Lifecycle{}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// CreateTempFile creates an empty temp file and registers it for deletion.
// Creation and registration happen under the same lock.
func (l *Lifecycle) CreateTempFile() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.CreateTemp(l.dir, tempFilePattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	l.files = append(l.files, path)
	return path, nil
}

// Materialize copies r into a new tracked temp file and returns its path.
// The file can be opened any number of times until Release.
func (l *Lifecycle) Materialize(r io.Reader) (string, error) {
	path, err := l.CreateTempFile()
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("opening temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return path, nil
}

// RegisterCloseable adds c to the handles closed on Release
func (l *Lifecycle) RegisterCloseable(c io.Closer) {
	if c == nil {
		return
	}
	l.mu.Lock()
	l.closers = append(l.closers, c)
	l.mu.Unlock()
}

// Files returns a snapshot of the currently tracked temp file paths
func (l *Lifecycle) Files() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.files...)
}

// Release deletes every tracked temp file and closes every registered
// handle. Both sets are cleared first under the lock, so a second call
// finds nothing to do.
func (l *Lifecycle) Release() {
	l.mu.Lock()
	files := l.files
	l.files = nil
	l.mu.Unlock()

	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("failed to delete temp file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	l.mu.Lock()
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			l.logger.Debug("failed to close handle", slog.String("error", err.Error()))
		}
	}
}

// Close releases the lifecycle. It always returns nil.
func (l *Lifecycle) Close() error {
	l.Release()
	return nil
}
