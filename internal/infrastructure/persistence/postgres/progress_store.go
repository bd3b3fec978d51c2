package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ProgressStore implements progression.Store for PostgreSQL.
type ProgressStore struct {
	conn *Connection
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(conn *Connection) *ProgressStore {
	return &ProgressStore{conn: conn}
}

// Name identifies the store in logs.
func (s *ProgressStore) Name() string { return "postgres" }

// Ping checks the underlying pool.
func (s *ProgressStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// LoadAll reads every member row.
func (s *ProgressStore) LoadAll(ctx context.Context) (progression.Table, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT member_id, chat_xp, chat_level, voice_xp, voice_level
		FROM member_progress
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query member progress: %w", err)
	}
	defer rows.Close()

	table := make(progression.Table)
	for rows.Next() {
		var id string
		var rec progression.Record
		if err := rows.Scan(&id, &rec.Chat.XP, &rec.Chat.Level, &rec.Voice.XP, &rec.Voice.Level); err != nil {
			return nil, fmt.Errorf("failed to scan member progress: %w", err)
		}
		table[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member progress: %w", err)
	}
	return table, nil
}

// SaveAll replaces the stored table with the snapshot in one transaction:
// rows missing from the snapshot are removed, the rest are upserted.
// A failed transaction leaves the previous snapshot untouched.
func (s *ProgressStore) SaveAll(ctx context.Context, table progression.Table) error {
	cols, err := newProgressColumns("SaveAll", table)
	if err != nil {
		return err
	}

	return s.conn.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM member_progress WHERE NOT (member_id = ANY($1::text[]))`, cols.ids); err != nil {
			return fmt.Errorf("failed to prune member progress: %w", err)
		}
		return upsertProgress(ctx, tx, cols)
	})
}

// MergeAll upserts the snapshot and keeps rows that are missing from it.
func (s *ProgressStore) MergeAll(ctx context.Context, table progression.Table) error {
	cols, err := newProgressColumns("MergeAll", table)
	if err != nil {
		return err
	}

	return s.conn.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return upsertProgress(ctx, tx, cols)
	})
}

// progressColumns is a snapshot split into the int4 arrays fed to unnest.
type progressColumns struct {
	ids        []string
	chatXP     []int32
	chatLevel  []int32
	voiceXP    []int32
	voiceLevel []int32
}

// newProgressColumns rejects values that do not fit the int4 columns
// instead of letting them wrap.
func newProgressColumns(op string, table progression.Table) (progressColumns, error) {
	n := len(table)
	cols := progressColumns{
		ids:        make([]string, 0, n),
		chatXP:     make([]int32, 0, n),
		chatLevel:  make([]int32, 0, n),
		voiceXP:    make([]int32, 0, n),
		voiceLevel: make([]int32, 0, n),
	}

	for id, rec := range table {
		values := [4]int{rec.Chat.XP, rec.Chat.Level, rec.Voice.XP, rec.Voice.Level}
		for _, v := range values {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return progressColumns{}, shared.WrapError("postgres", op, shared.ErrValueOutOfRange,
					fmt.Sprintf("member %s: %d does not fit an int4 column", id, v), nil)
			}
		}
		cols.ids = append(cols.ids, id)
		cols.chatXP = append(cols.chatXP, int32(rec.Chat.XP))
		cols.chatLevel = append(cols.chatLevel, int32(rec.Chat.Level))
		cols.voiceXP = append(cols.voiceXP, int32(rec.Voice.XP))
		cols.voiceLevel = append(cols.voiceLevel, int32(rec.Voice.Level))
	}
	return cols, nil
}

func upsertProgress(ctx context.Context, tx pgx.Tx, cols progressColumns) error {
	if len(cols.ids) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO member_progress (member_id, chat_xp, chat_level, voice_xp, voice_level)
		SELECT * FROM unnest($1::text[], $2::int4[], $3::int4[], $4::int4[], $5::int4[])
		ON CONFLICT (member_id) DO UPDATE SET
			chat_xp     = EXCLUDED.chat_xp,
			chat_level  = EXCLUDED.chat_level,
			voice_xp    = EXCLUDED.voice_xp,
			voice_level = EXCLUDED.voice_level,
			updated_at  = NOW()
		WHERE (member_progress.chat_xp, member_progress.chat_level, member_progress.voice_xp, member_progress.voice_level)
			IS DISTINCT FROM (EXCLUDED.chat_xp, EXCLUDED.chat_level, EXCLUDED.voice_xp, EXCLUDED.voice_level)
	`, cols.ids, cols.chatXP, cols.chatLevel, cols.voiceXP, cols.voiceLevel)
	if err != nil {
		return fmt.Errorf("failed to upsert member progress: %w", err)
	}
	return nil
}
