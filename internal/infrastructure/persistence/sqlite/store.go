// Package sqlite implements the SQLite progression store on the pure-Go
// modernc.org/sqlite driver, so the bot stays a single static binary.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
)

// Store provides SQLite-backed progression persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database file and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; readers share it.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := applyMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Name identifies the store in logs.
func (s *Store) Name() string { return "sqlite" }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// LoadAll reads every member row.
func (s *Store) LoadAll(ctx context.Context) (progression.Table, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT member_id, chat_xp, chat_level, voice_xp, voice_level
FROM member_progress
`)
	if err != nil {
		return nil, fmt.Errorf("query member progress: %w", err)
	}
	defer rows.Close()

	table := make(progression.Table)
	for rows.Next() {
		var id string
		var rec progression.Record
		if err := rows.Scan(&id, &rec.Chat.XP, &rec.Chat.Level, &rec.Voice.XP, &rec.Voice.Level); err != nil {
			return nil, fmt.Errorf("scan member progress: %w", err)
		}
		table[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member progress: %w", err)
	}
	return table, nil
}

// SaveAll replaces the stored table inside one transaction.
func (s *Store) SaveAll(ctx context.Context, table progression.Table) error {
	return s.write(ctx, table, true)
}

// MergeAll upserts the snapshot and keeps rows that are missing from it.
func (s *Store) MergeAll(ctx context.Context, table progression.Table) error {
	return s.write(ctx, table, false)
}

func (s *Store) write(ctx context.Context, table progression.Table, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM member_progress`); err != nil {
			return fmt.Errorf("clear member progress: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO member_progress (member_id, chat_xp, chat_level, voice_xp, voice_level, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (member_id) DO UPDATE SET
	chat_xp     = excluded.chat_xp,
	chat_level  = excluded.chat_level,
	voice_xp    = excluded.voice_xp,
	voice_level = excluded.voice_level,
	updated_at  = excluded.updated_at
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	for id, rec := range table {
		if _, err := stmt.ExecContext(ctx, id, rec.Chat.XP, rec.Chat.Level, rec.Voice.XP, rec.Voice.Level, now); err != nil {
			return fmt.Errorf("insert member %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}
