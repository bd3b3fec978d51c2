package postgres

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)

	_, err = conn.Exec(ctx, "TRUNCATE member_progress")
	require.NoError(t, err)
	return conn
}

func TestDefaultConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://u:p@localhost:5432/rank")
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(1), pc.MinConns)

	_, err = DefaultConfig("://bad").PoolConfig()
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "23514"}))
	assert.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, IsCheckViolation(errors.New("boom")))

	assert.True(t, Retryable(errors.New("connection reset")))
	assert.True(t, Retryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, Retryable(&pgconn.PgError{Code: "23514"}))
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

func TestProgressStore_RoundTrip(t *testing.T) {
	conn := newTestConnection(t)
	store := NewProgressStore(conn)
	ctx := context.Background()

	table := progression.Table{
		"1": {Chat: progression.Track{Level: 3, XP: 40}, Voice: progression.DefaultTrack()},
		"2": {Chat: progression.DefaultTrack(), Voice: progression.Track{Level: 2, XP: 150}},
	}
	require.NoError(t, store.SaveAll(ctx, table))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)

	delete(table, "2")
	table["3"] = progression.DefaultRecord()
	require.NoError(t, store.SaveAll(ctx, table))

	loaded, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)

	require.NoError(t, store.SaveAll(ctx, progression.Table{}))
	loaded, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestProgressStore_RejectsInvalidRows(t *testing.T) {
	conn := newTestConnection(t)
	store := NewProgressStore(conn)
	ctx := context.Background()

	require.NoError(t, store.SaveAll(ctx, progression.Table{"1": progression.DefaultRecord()}))

	err := store.SaveAll(ctx, progression.Table{"1": {Chat: progression.Track{Level: 0}}})
	require.Error(t, err)
	assert.True(t, IsCheckViolation(err))

	// The failed transaction left the previous snapshot in place.
	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, progression.Table{"1": progression.DefaultRecord()}, loaded)
}

func TestNewProgressColumns_RejectsInt4Overflow(t *testing.T) {
	tests := []struct {
		name    string
		rec     progression.Record
		wantErr bool
	}{
		{name: "defaults", rec: progression.DefaultRecord()},
		{name: "int4 max fits", rec: progression.Record{Chat: progression.Track{Level: 1, XP: math.MaxInt32}, Voice: progression.DefaultTrack()}},
		{name: "chat xp overflow", rec: progression.Record{Chat: progression.Track{Level: 1, XP: math.MaxInt32 + 1}, Voice: progression.DefaultTrack()}, wantErr: true},
		{name: "voice level overflow", rec: progression.Record{Chat: progression.DefaultTrack(), Voice: progression.Track{Level: math.MaxInt32 + 1}}, wantErr: true},
		{name: "max int xp", rec: progression.Record{Chat: progression.DefaultTrack(), Voice: progression.Track{Level: 1, XP: math.MaxInt}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, err := newProgressColumns("SaveAll", progression.Table{"1": tt.rec})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
				assert.Contains(t, err.Error(), "member 1")
				assert.Empty(t, cols.ids)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"1"}, cols.ids)
			assert.Equal(t, []int32{int32(tt.rec.Chat.XP)}, cols.chatXP)
			assert.Equal(t, []int32{int32(tt.rec.Voice.Level)}, cols.voiceLevel)
		})
	}
}

func TestProgressStore_SaveAllRejectsOverflowBeforeWriting(t *testing.T) {
	conn := newTestConnection(t)
	store := NewProgressStore(conn)
	ctx := context.Background()

	require.NoError(t, store.SaveAll(ctx, progression.Table{"1": progression.DefaultRecord()}))

	err := store.SaveAll(ctx, progression.Table{
		"2": {Chat: progression.Track{Level: 1, XP: math.MaxInt32 + 1}, Voice: progression.DefaultTrack()},
	})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, progression.Table{"1": progression.DefaultRecord()}, loaded)
}

func TestProgressStore_MergeAllKeepsAbsentRows(t *testing.T) {
	conn := newTestConnection(t)
	store := NewProgressStore(conn)
	ctx := context.Background()

	require.NoError(t, store.SaveAll(ctx, progression.Table{
		"1": {Chat: progression.Track{Level: 4, XP: 10}, Voice: progression.DefaultTrack()},
		"2": progression.DefaultRecord(),
	}))

	require.NoError(t, store.MergeAll(ctx, progression.Table{
		"2": {Chat: progression.Track{Level: 1, XP: 10}, Voice: progression.DefaultTrack()},
	}))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, progression.Table{
		"1": {Chat: progression.Track{Level: 4, XP: 10}, Voice: progression.DefaultTrack()},
		"2": {Chat: progression.Track{Level: 1, XP: 10}, Voice: progression.DefaultTrack()},
	}, loaded)
}
