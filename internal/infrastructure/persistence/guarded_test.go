package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melon-hub/melon-rank/config"
	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/circuitbreaker"
	"github.com/melon-hub/melon-rank/pkg/logger"
	"github.com/melon-hub/melon-rank/pkg/timeutil"
)

// fakeStore fails the first failN calls of each method.
type fakeStore struct {
	mu      sync.Mutex
	table   progression.Table
	failN   int
	failErr error
	loads   int
	saves   int
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) LoadAll(_ context.Context) (progression.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loads <= f.failN {
		return nil, f.failErr
	}
	return f.table.Clone(), nil
}

func (f *fakeStore) SaveAll(_ context.Context, t progression.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saves <= f.failN {
		return f.failErr
	}
	f.table = t.Clone()
	return nil
}

func testOptions() GuardOptions {
	opts := DefaultGuardOptions()
	opts.RetryDelay = time.Millisecond
	opts.Logger = logger.Discard()
	return opts
}

func TestGuarded_RetriesTransientFailures(t *testing.T) {
	inner := &fakeStore{failN: 2, failErr: errors.New("connection reset")}
	g := NewGuarded(inner, testOptions())

	table := progression.Table{"1": progression.DefaultRecord()}
	require.NoError(t, g.SaveAll(context.Background(), table))
	assert.Equal(t, 3, inner.saves)
	assert.Equal(t, table, inner.table)

	saves, failures := g.Stats()
	assert.Equal(t, int64(1), saves)
	assert.Equal(t, int64(0), failures)
}

func TestGuarded_SaveFailureIsStoreUnavailable(t *testing.T) {
	inner := &fakeStore{failN: 100, failErr: errors.New("disk full")}
	g := NewGuarded(inner, testOptions())

	err := g.SaveAll(context.Background(), progression.Table{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.True(t, shared.IsUnavailable(err))
	assert.Equal(t, 3, inner.saves)
}

func TestGuarded_LoadDegradesToEmpty(t *testing.T) {
	inner := &fakeStore{failN: 100, failErr: errors.New("no route to host")}
	g := NewGuarded(inner, testOptions())

	table, err := g.LoadAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, table)
	assert.Empty(t, table)
	assert.True(t, g.Degraded())
}

// mergingStore is a fakeStore that also implements Merger.
type mergingStore struct {
	fakeStore
	loadErr error
	merges  int
}

func (m *mergingStore) LoadAll(ctx context.Context) (progression.Table, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.fakeStore.LoadAll(ctx)
}

func (m *mergingStore) MergeAll(_ context.Context, t progression.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges++
	for id, rec := range t {
		m.table[id] = rec
	}
	return nil
}

func TestGuarded_DegradedSaveKeepsUnseenRows(t *testing.T) {
	old := progression.Record{Chat: progression.Track{Level: 7, XP: 30}, Voice: progression.DefaultTrack()}
	fresh := progression.Record{Chat: progression.Track{Level: 1, XP: 10}, Voice: progression.DefaultTrack()}

	tests := []struct {
		name       string
		loadErr    error
		wantMerges int
		wantSaves  int
		want       progression.Table
	}{
		{
			name:       "degraded load merges",
			loadErr:    errors.New("no route to host"),
			wantMerges: 1,
			want:       progression.Table{"old": old, "new": fresh},
		},
		{
			name:      "healthy load replaces",
			wantSaves: 1,
			want:      progression.Table{"new": fresh},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &mergingStore{
				fakeStore: fakeStore{table: progression.Table{"old": old}},
				loadErr:   tt.loadErr,
			}
			opts := testOptions()
			opts.RetryAttempts = 1
			g := NewGuarded(inner, opts)
			ctx := context.Background()

			_, err := g.LoadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.loadErr != nil, g.Degraded())

			require.NoError(t, g.SaveAll(ctx, progression.Table{"new": fresh}))
			assert.Equal(t, tt.wantMerges, inner.merges)
			assert.Equal(t, tt.wantSaves, inner.saves)
			assert.Equal(t, tt.want, inner.table)
		})
	}
}

func TestGuarded_RecoveredLoadSavesAgain(t *testing.T) {
	inner := &mergingStore{
		fakeStore: fakeStore{table: progression.Table{"1": progression.DefaultRecord()}},
		loadErr:   errors.New("timeout"),
	}
	opts := testOptions()
	opts.RetryAttempts = 1
	g := NewGuarded(inner, opts)
	ctx := context.Background()

	_, err := g.LoadAll(ctx)
	require.NoError(t, err)
	require.True(t, g.Degraded())

	inner.loadErr = nil
	table, err := g.LoadAll(ctx)
	require.NoError(t, err)
	assert.False(t, g.Degraded())

	require.NoError(t, g.SaveAll(ctx, table))
	assert.Equal(t, 0, inner.merges)
	assert.Equal(t, 1, inner.saves)
}

func TestGuarded_OutOfRangeIsNotRetried(t *testing.T) {
	inner := &fakeStore{failN: 100, failErr: shared.ErrValueOutOfRange}
	g := NewGuarded(inner, testOptions())

	require.Error(t, g.SaveAll(context.Background(), progression.Table{}))
	assert.Equal(t, 1, inner.saves)
}

func TestGuarded_CorruptSnapshotIsNotRetried(t *testing.T) {
	inner := &fakeStore{failN: 100, failErr: shared.ErrCorruptSnapshot}
	g := NewGuarded(inner, testOptions())

	table, err := g.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, table)
	assert.Equal(t, 1, inner.loads)
}

func TestGuarded_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	clock := timeutil.NewManualClock(time.Unix(0, 0))
	inner := &fakeStore{failN: 100, failErr: errors.New("timeout")}

	opts := testOptions()
	opts.RetryAttempts = 1
	opts.BreakerThreshold = 2
	opts.BreakerTimeout = time.Minute
	opts.Clock = clock
	g := NewGuarded(inner, opts)

	ctx := context.Background()
	require.Error(t, g.SaveAll(ctx, progression.Table{}))
	require.Error(t, g.SaveAll(ctx, progression.Table{}))
	assert.Equal(t, circuitbreaker.StateOpen, g.BreakerState())

	err := g.SaveAll(ctx, progression.Table{})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, inner.saves, "open breaker must not reach the store")

	// After the cool-off a successful call closes it again.
	inner.mu.Lock()
	inner.failN = 0
	inner.mu.Unlock()
	clock.Advance(2 * time.Minute)

	require.NoError(t, g.SaveAll(ctx, progression.Table{}))
	assert.Equal(t, circuitbreaker.StateClosed, g.BreakerState())
}

func TestOpen_FileDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	cfg, err := config.LoadOffline(env.Options{Environment: map[string]string{
		"STORAGE_DRIVER": "file",
		"FILE_PATH":      path,
	}})
	require.NoError(t, err)

	store, closer, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer closer()

	assert.Equal(t, "file", store.Name())
	assert.NoError(t, store.Ping(context.Background()))

	table := progression.Table{"9": progression.DefaultRecord()}
	require.NoError(t, store.SaveAll(context.Background(), table))

	loaded, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, table, loaded)
	assert.False(t, store.Degraded())
}

func TestOpen_SQLiteDriver(t *testing.T) {
	cfg, err := config.LoadOffline(env.Options{Environment: map[string]string{
		"STORAGE_DRIVER": "sqlite",
		"SQLITE_PATH":    filepath.Join(t.TempDir(), "rank.db"),
	}})
	require.NoError(t, err)

	store, closer, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer closer()
	assert.Equal(t, "sqlite", store.Name())
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "mongo"}}
	_, closer, err := Open(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
	closer()
}

func TestRedisConfig(t *testing.T) {
	rc := RedisConfig(config.RedisConfig{Host: "cache", Port: 7000, DB: 1})
	assert.Equal(t, "cache:7000", rc.Addr())
	assert.Equal(t, 1, rc.DB)
}
