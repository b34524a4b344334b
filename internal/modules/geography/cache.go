package geography

import (
	"sync"
	"time"
)

// ttlCache is a small in-memory cache with per-entry expiry. Neighbour
// sets and geocoding results change on geological timescales compared
// to job traffic, so a plain map under a mutex is plenty.
type ttlCache[V any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

func newTTLCache[V any](ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		ttl:     ttl,
		entries: make(map[string]ttlEntry[V]),
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = ttlEntry[V]{value: value, expires: time.Now().Add(c.ttl)}
}
