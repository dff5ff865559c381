package memcache

import (
	"sync"

	"github.com/ionbus/ionbus-fast-persist/recordmodel"
)

// ChangeTracker is the set of identities written since the last
// storage_latest materialization (spec §4.G, collection mode only).
// Insertion happens under the write lock; draining happens under the
// flush lock during the latest-table upsert performed at close or on an
// explicit trigger.
type ChangeTracker struct {
	mu   sync.Mutex
	seen map[recordmodel.Identity]struct{}
}

// NewChangeTracker returns an empty tracker.
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{seen: make(map[recordmodel.Identity]struct{})}
}

// Mark adds identity to the pending set.
func (t *ChangeTracker) Mark(identity recordmodel.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[identity] = struct{}{}
}

// Drain returns every pending identity and clears the set. Called
// exactly once per materialization cycle.
func (t *ChangeTracker) Drain() []recordmodel.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]recordmodel.Identity, 0, len(t.seen))
	for id := range t.seen {
		out = append(out, id)
	}
	t.seen = make(map[recordmodel.Identity]struct{})
	return out
}

// Len reports how many identities are currently pending.
func (t *ChangeTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
