package memcache

import (
	"sync"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

// CollectionCache holds key -> collection_name -> item_name -> Record.
// Residency is tracked per collection_name: once a collection has been
// loaded from storage_latest, it is never evicted (spec §4.F, §9 — no
// eviction in the core; see DESIGN.md for why this cache does not reuse
// the teacher's LRU cache).
type CollectionCache struct {
	mu        sync.RWMutex
	data      map[string]map[string]map[string]recordmodel.Record
	resident  map[string]struct{}
}

// NewCollectionCache returns an empty cache. Collection mode never scans
// at startup; everything below is populated lazily (spec §4.K).
func NewCollectionCache() *CollectionCache {
	return &CollectionCache{
		data:     make(map[string]map[string]map[string]recordmodel.Record),
		resident: make(map[string]struct{}),
	}
}

// Put installs rec, replacing any prior record under the same identity.
func (c *CollectionCache) Put(rec recordmodel.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(rec)
}

func (c *CollectionCache) putLocked(rec recordmodel.Record) {
	byCollection, ok := c.data[rec.Identity.Key]
	if !ok {
		byCollection = make(map[string]map[string]recordmodel.Record)
		c.data[rec.Identity.Key] = byCollection
	}
	byItem, ok := byCollection[rec.Identity.CollectionName]
	if !ok {
		byItem = make(map[string]recordmodel.Record)
		byCollection[rec.Identity.CollectionName] = byItem
	}
	byItem[rec.Identity.ItemName] = rec
}

// IsResident reports whether collectionName has already been loaded from
// storage_latest at least once.
func (c *CollectionCache) IsResident(collectionName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.resident[collectionName]
	return ok
}

// LoadCollection bulk-installs records (typically the result of a
// coldb.ScanCollection against storage_latest) and marks collectionName
// resident so later misses skip the reload, per spec §4.F's lazy-load
// contract.
func (c *CollectionCache) LoadCollection(collectionName string, records []recordmodel.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		c.putLocked(rec)
	}
	c.resident[collectionName] = struct{}{}
}

// GetKey returns the collection_name -> item_name -> Record mapping for
// key, optionally restricted to one collection.
func (c *CollectionCache) GetKey(key, collectionName string) (map[string]map[string]recordmodel.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCollection, ok := c.data[key]
	if !ok {
		return nil, false
	}

	if collectionName != "" {
		byItem, ok := byCollection[collectionName]
		if !ok {
			return nil, false
		}
		return map[string]map[string]recordmodel.Record{collectionName: cloneItems(byItem)}, true
	}

	out := make(map[string]map[string]recordmodel.Record, len(byCollection))
	for coll, byItem := range byCollection {
		out[coll] = cloneItems(byItem)
	}
	return out, true
}

// GetItem returns the single record for (key, collectionName, itemName).
func (c *CollectionCache) GetItem(key, collectionName, itemName string) (recordmodel.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byCollection, ok := c.data[key]
	if !ok {
		return recordmodel.Record{}, false
	}
	byItem, ok := byCollection[collectionName]
	if !ok {
		return recordmodel.Record{}, false
	}
	rec, ok := byItem[itemName]
	if !ok {
		return recordmodel.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the total number of resident records across every key and
// collection, the cache_size stat.
func (c *CollectionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byCollection := range c.data {
		for _, byItem := range byCollection {
			n += len(byItem)
		}
	}
	return n
}

func cloneItems(byItem map[string]recordmodel.Record) map[string]recordmodel.Record {
	out := make(map[string]recordmodel.Record, len(byItem))
	for k, v := range byItem {
		out[k] = v.Clone()
	}
	return out
}
