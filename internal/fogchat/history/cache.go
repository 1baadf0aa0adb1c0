package history

import (
	"sync"
	"time"
)

// snapshotCache is the read-through cache for conversation records. Entries
// are owned by the history store and never handed out by reference: get
// returns a fresh copy every time.
type snapshotCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]snapshot
}

type snapshot struct {
	turns       []Turn
	lastWriteAt time.Time
	cachedAt    time.Time
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		ttl:     ttl,
		entries: make(map[int64]snapshot),
	}
}

// get returns a copy of the cached record when present and within TTL.
func (c *snapshotCache) get(id int64) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || time.Since(e.cachedAt) > c.ttl {
		return nil, false
	}

	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return &Record{Turns: turns, LastWriteAt: e.lastWriteAt}, true
}

// set stores a copy of turns under id with a fresh TTL.
func (c *snapshotCache) set(id int64, turns []Turn, lastWriteAt time.Time) {
	stored := make([]Turn, len(turns))
	copy(stored, turns)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = snapshot{
		turns:       stored,
		lastWriteAt: lastWriteAt,
		cachedAt:    time.Now(),
	}
}

// invalidate removes the entry for id.
func (c *snapshotCache) invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// sweep removes entries past their TTL.
func (c *snapshotCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, id)
		}
	}
}
