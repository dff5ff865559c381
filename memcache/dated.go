// Package memcache implements the thread-safe nested in-memory mapping
// both storage modes read through, with no TTL or eviction — an entry
// lives until process exit (spec §3, §4.F).
package memcache

import (
	"sync"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

// DatedCache holds one mapping per key: process_name -> Record. Mutation
// is expected to happen under the caller's write lock (spec §5); the
// internal RWMutex here exists only to make concurrent get_* reads safe
// against a reader racing the cache-entry swap, not to replace that lock.
type DatedCache struct {
	mu   sync.RWMutex
	data map[string]map[string]recordmodel.Record
}

// NewDatedCache returns an empty cache, ready to be populated by a
// full-table scan at startup (spec §4.K).
func NewDatedCache() *DatedCache {
	return &DatedCache{data: make(map[string]map[string]recordmodel.Record)}
}

// Put installs rec, replacing any prior record under the same identity.
// The replacement is atomic from a reader's perspective (spec §5: "writes
// are not observable mid-update because the cache entry is replaced
// atomically").
func (c *DatedCache) Put(rec recordmodel.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byProcess, ok := c.data[rec.Identity.Key]
	if !ok {
		byProcess = make(map[string]recordmodel.Record)
		c.data[rec.Identity.Key] = byProcess
	}
	byProcess[rec.Identity.ProcessName] = rec
}

// GetKey returns the process_name -> Record mapping for key.
func (c *DatedCache) GetKey(key string) (map[string]recordmodel.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byProcess, ok := c.data[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]recordmodel.Record, len(byProcess))
	for k, v := range byProcess {
		out[k] = v.Clone()
	}
	return out, true
}

// GetKeyProcess returns the single record for (key, processName).
func (c *DatedCache) GetKeyProcess(key, processName string) (recordmodel.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byProcess, ok := c.data[key]
	if !ok {
		return recordmodel.Record{}, false
	}
	rec, ok := byProcess[processName]
	if !ok {
		return recordmodel.Record{}, false
	}
	return rec.Clone(), true
}

// Len returns the total number of resident records, the cache_size stat
// (spec §6 get_stats).
func (c *DatedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, byProcess := range c.data {
		n += len(byProcess)
	}
	return n
}
