package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ionbus/ionbus-fast-persist/events"
)

func newTestCollectionStore(t *testing.T, today time.Time, opts ...CollectionOption) *CollectionStore {
	t.Helper()
	base := t.TempDir()
	all := append([]CollectionOption{
		WithCollectionBaseDir(base),
		WithCollectionSink(events.NopSink{}),
		WithCollectionFlushIntervalSeconds(3600),
	}, opts...)
	s, err := NewCollectionStore(context.Background(), today, all...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestCollectionStoreVersionMonotonicPerIdentity(t *testing.T) {
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s := newTestCollectionStore(t, today)
	ctx := context.Background()

	rec1, err := s.Store(ctx, "widget", map[string]any{"label": "thirty"}, WithCollectionName("inventory"), WithItemName("count"), WithValue("thirty"))
	require.NoError(t, err)
	require.Equal(t, int64(1), rec1.Version)

	rec2, err := s.Store(ctx, "widget", map[string]any{"label": "thirty-one"}, WithCollectionName("inventory"), WithItemName("count"), WithValue("thirty-one"))
	require.NoError(t, err)
	require.Equal(t, int64(2), rec2.Version)
}

func TestCollectionStoreValueExclusiveColumn(t *testing.T) {
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s := newTestCollectionStore(t, today)
	ctx := context.Background()

	rec, err := s.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("count"), WithValue("thirty"))
	require.NoError(t, err)
	require.Equal(t, "thirty", rec.Value.Str)
	require.Zero(t, rec.Value.Int)
	require.Zero(t, rec.Value.Flt)

	rec2, err := s.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("price"), WithValue(int64(30)))
	require.NoError(t, err)
	require.Equal(t, int64(30), rec2.Value.Int)
	require.Empty(t, rec2.Value.Str)
}

func TestCollectionStoreGetKeyLazyLoadsFromLatest(t *testing.T) {
	base := t.TempDir()
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s, err := NewCollectionStore(ctx, today, WithCollectionBaseDir(base), WithCollectionSink(events.NopSink{}), WithCollectionFlushIntervalSeconds(3600))
	require.NoError(t, err)

	_, err = s.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("count"), WithValue(int64(5)))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s2, err := NewCollectionStore(ctx, today.AddDate(0, 0, 1), WithCollectionBaseDir(base), WithCollectionSink(events.NopSink{}), WithCollectionFlushIntervalSeconds(3600))
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close(ctx) })

	mapping, ok := s2.GetKey("widget", "inventory")
	require.True(t, ok, "collection must lazy-load from storage_latest on first touch")
	require.Equal(t, int64(5), mapping["inventory"]["count"].Value.Int)
}

func TestCollectionStoreGetItemMiss(t *testing.T) {
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s := newTestCollectionStore(t, today)
	ctx := context.Background()

	_, ok := s.GetItem(ctx, "nope", "inventory", "count")
	require.False(t, ok)
}

func TestCollectionStoreCloseMaterializesLatestAndBacksUp(t *testing.T) {
	base := t.TempDir()
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	s, err := NewCollectionStore(ctx, today, WithCollectionBaseDir(base), WithCollectionSink(events.NopSink{}), WithCollectionFlushIntervalSeconds(3600))
	require.NoError(t, err)

	_, err = s.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("count"), WithValue(int64(1)))
	require.NoError(t, err)
	_, err = s.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("count"), WithValue(int64(2)))
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))

	backupDir := filepath.Join(base, today.Format(dateLayout))
	require.FileExists(t, filepath.Join(backupDir, "storage_history.duckdb.backup"))
	require.FileExists(t, filepath.Join(backupDir, "storage_latest.duckdb.backup"))

	latestRows, err := func() (int, error) {
		s2, err := NewCollectionStore(ctx, today.AddDate(0, 0, 1), WithCollectionBaseDir(base), WithCollectionSink(events.NopSink{}), WithCollectionFlushIntervalSeconds(3600))
		if err != nil {
			return 0, err
		}
		defer s2.Close(ctx)
		rec, ok := s2.GetItem(ctx, "widget", "inventory", "count")
		if !ok {
			return 0, nil
		}
		return int(rec.Version), nil
	}()
	require.NoError(t, err)
	require.Equal(t, 2, latestRows, "storage_latest must hold the highest version written this session")
}

func TestCollectionStoreRetentionPrunesOldDirectories(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	day1 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	s1, err := NewCollectionStore(ctx, day1, WithCollectionBaseDir(base), WithCollectionSink(events.NopSink{}), WithCollectionFlushIntervalSeconds(3600), WithRetainDays(2))
	require.NoError(t, err)
	_, err = s1.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("count"), WithValue(int64(1)))
	require.NoError(t, err)
	require.NoError(t, s1.Close(ctx))
	require.DirExists(t, filepath.Join(base, day1.Format(dateLayout)))

	day2 := day1.AddDate(0, 0, 10)
	s2, err := NewCollectionStore(ctx, day2, WithCollectionBaseDir(base), WithCollectionSink(events.NopSink{}), WithCollectionFlushIntervalSeconds(3600), WithRetainDays(2))
	require.NoError(t, err)
	_, err = s2.Store(ctx, "widget", map[string]any{}, WithCollectionName("inventory"), WithItemName("count"), WithValue(int64(2)))
	require.NoError(t, err)
	require.NoError(t, s2.Close(ctx))

	require.NoDirExists(t, filepath.Join(base, day1.Format(dateLayout)), "day1 directory must be pruned once it falls outside the retention window")
	require.DirExists(t, filepath.Join(base, day2.Format(dateLayout)))
}

func TestCollectionStoreRebuildHistoryFromWAL(t *testing.T) {
	today := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	s := newTestCollectionStore(t, today)
	ctx := context.Background()

	n, err := s.RebuildHistoryFromWAL(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 0, n, "nothing pending to replay yet")
}
