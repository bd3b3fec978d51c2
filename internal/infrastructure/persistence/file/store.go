// Package file implements the JSON file progression store.
//
// The file layout is the legacy data.json map of member ID to record.
// Writes go to a temp file in the same directory which is synced and then
// renamed over the target, so a crash never leaves a half-written file.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/codec"
	"github.com/melon-hub/melon-rank/pkg/timeutil"
)

// Store reads and writes the whole table as one JSON document.
type Store struct {
	path   string
	clock  timeutil.Clock
	logger *slog.Logger

	// mu serializes writers within the process.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for quarantine file names.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store at path. The file does not have to exist yet.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	s := &Store{
		path:   filepath.Clean(path),
		clock:  timeutil.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name identifies the store in logs.
func (s *Store) Name() string { return "file" }

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Ping checks that the target directory is writable.
func (s *Store) Ping(_ context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("file store: %s is not a directory", dir)
	}
	return nil
}

// LoadAll reads the snapshot. A missing file is an empty table.
// An unreadable document is moved aside to <path>.corrupt-<unix> and
// ErrCorruptSnapshot is returned.
func (s *Store) LoadAll(ctx context.Context) (progression.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return progression.Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read %s: %w", s.path, err)
	}

	table, err := codec.DecodeTable(data)
	if err != nil {
		quarantined := s.quarantine()
		return nil, shared.WrapError("store", "LoadAll", shared.ErrCorruptSnapshot,
			fmt.Sprintf("cannot decode %s (moved to %s)", s.path, quarantined), err)
	}
	return table, nil
}

func (s *Store) quarantine() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := fmt.Sprintf("%s.corrupt-%d", s.path, s.clock.Now().Unix())
	if err := os.Rename(s.path, target); err != nil {
		s.logger.Warn("failed to quarantine corrupt snapshot",
			"path", s.path,
			"error", err,
		)
		return s.path
	}
	s.logger.Warn("corrupt snapshot moved aside", "path", s.path, "quarantine", target)
	return target
}

// SaveAll writes the snapshot atomically.
func (s *Store) SaveAll(ctx context.Context, table progression.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := codec.EncodeTable(table)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("file store: write %s: %w", s.path, err)
	}
	s.logger.Debug("snapshot written",
		"path", s.path,
		"records", len(table),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
