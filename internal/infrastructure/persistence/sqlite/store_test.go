package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rank.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	empty, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	table := progression.Table{
		"1": {Chat: progression.Track{Level: 3, XP: 40}, Voice: progression.DefaultTrack()},
		"2": {Chat: progression.DefaultTrack(), Voice: progression.Track{Level: 2, XP: 150}},
	}
	require.NoError(t, store.SaveAll(ctx, table))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)

	delete(table, "1")
	require.NoError(t, store.SaveAll(ctx, table))
	loaded, err = store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)
}

func TestStore_FailedSaveKeepsPreviousSnapshot(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	good := progression.Table{"1": progression.DefaultRecord()}
	require.NoError(t, store.SaveAll(ctx, good))

	bad := progression.Table{
		"1": progression.DefaultRecord(),
		"2": {Chat: progression.Track{Level: 0, XP: 0}, Voice: progression.DefaultTrack()},
	}
	require.Error(t, store.SaveAll(ctx, bad))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, good, loaded)
}

func TestStore_ReopenIsIdempotent(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()

	table := progression.Table{"7": {Chat: progression.Track{Level: 2, XP: 5}, Voice: progression.DefaultTrack()}}
	require.NoError(t, store.SaveAll(ctx, table))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, table, loaded)
}

func TestStore_CanceledContext(t *testing.T) {
	store, _ := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.SaveAll(ctx, progression.Table{}), context.Canceled)
}

func TestExtractUp(t *testing.T) {
	sql := "-- +migrate Up\nCREATE TABLE x (id INT);\n-- +migrate Down\nDROP TABLE x;"
	assert.Equal(t, "\nCREATE TABLE x (id INT);\n", extractUp(sql))
	assert.Equal(t, "SELECT 1", extractUp("SELECT 1"))
}

func TestStore_MergeAllKeepsAbsentRows(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	kept := progression.Record{Chat: progression.Track{Level: 5, XP: 20}, Voice: progression.DefaultTrack()}
	require.NoError(t, store.SaveAll(ctx, progression.Table{"1": kept, "2": progression.DefaultRecord()}))

	updated := progression.Record{Chat: progression.DefaultTrack(), Voice: progression.Track{Level: 1, XP: 10}}
	require.NoError(t, store.MergeAll(ctx, progression.Table{"2": updated, "3": progression.DefaultRecord()}))

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, progression.Table{"1": kept, "2": updated, "3": progression.DefaultRecord()}, loaded)
}
