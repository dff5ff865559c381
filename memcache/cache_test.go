package memcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

func TestDatedCachePutAndGet(t *testing.T) {
	c := NewDatedCache()
	rec := recordmodel.Record{Identity: recordmodel.Identity{Key: "a", ProcessName: "ingest"}, Version: 1}
	c.Put(rec)

	byProcess, ok := c.GetKey("a")
	require.True(t, ok)
	require.Contains(t, byProcess, "ingest")

	got, ok := c.GetKeyProcess("a", "ingest")
	require.True(t, ok)
	require.Equal(t, int64(1), got.Version)

	_, ok = c.GetKeyProcess("a", "missing")
	require.False(t, ok)

	require.Equal(t, 1, c.Len())
}

func TestDatedCacheReplaceIsAtomic(t *testing.T) {
	c := NewDatedCache()
	c.Put(recordmodel.Record{Identity: recordmodel.Identity{Key: "a", ProcessName: "p"}, Version: 1})
	c.Put(recordmodel.Record{Identity: recordmodel.Identity{Key: "a", ProcessName: "p"}, Version: 2})

	got, ok := c.GetKeyProcess("a", "p")
	require.True(t, ok)
	require.Equal(t, int64(2), got.Version, "second write must replace, not duplicate")
	require.Equal(t, 1, c.Len())
}

func TestCollectionCacheLazyLoadResidency(t *testing.T) {
	c := NewCollectionCache()
	require.False(t, c.IsResident("inventory"))

	_, ok := c.GetItem("widget", "inventory", "count")
	require.False(t, ok)

	c.LoadCollection("inventory", []recordmodel.Record{
		{Identity: recordmodel.Identity{Key: "widget", CollectionName: "inventory", ItemName: "count"}, Version: 1},
	})
	require.True(t, c.IsResident("inventory"))

	got, ok := c.GetItem("widget", "inventory", "count")
	require.True(t, ok)
	require.Equal(t, int64(1), got.Version)
}

func TestCollectionCacheGetKeyFiltersByCollection(t *testing.T) {
	c := NewCollectionCache()
	c.Put(recordmodel.Record{Identity: recordmodel.Identity{Key: "k", CollectionName: "a", ItemName: "x"}})
	c.Put(recordmodel.Record{Identity: recordmodel.Identity{Key: "k", CollectionName: "b", ItemName: "y"}})

	all, ok := c.GetKey("k", "")
	require.True(t, ok)
	require.Len(t, all, 2)

	onlyA, ok := c.GetKey("k", "a")
	require.True(t, ok)
	require.Len(t, onlyA, 1)
	require.Contains(t, onlyA, "a")
}

func TestChangeTrackerDrainClears(t *testing.T) {
	tr := NewChangeTracker()
	id1 := recordmodel.Identity{Key: "k", CollectionName: "a", ItemName: "x"}
	id2 := recordmodel.Identity{Key: "k", CollectionName: "a", ItemName: "y"}
	tr.Mark(id1)
	tr.Mark(id2)
	tr.Mark(id1) // duplicate mark must not double-count

	require.Equal(t, 2, tr.Len())
	drained := tr.Drain()
	require.ElementsMatch(t, []recordmodel.Identity{id1, id2}, drained)
	require.Equal(t, 0, tr.Len())
	require.Empty(t, tr.Drain())
}
