package source

import (
	"sync"
	"time"
)

// ttlCache is a small expiring cache with an injectable clock. It replaces
// the implicit global station/prediction caches the pipeline would
// otherwise grow.
type ttlCache[V any] struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		clock:   func() time.Time { return time.Now().UTC() },
		entries: make(map[string]cacheEntry[V]),
	}
}

func (c *ttlCache[V]) withClock(now func() time.Time) *ttlCache[V] {
	c.clock = now
	return c
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.clock().Sub(entry.storedAt) > c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.clock()}
	c.mu.Unlock()
}
