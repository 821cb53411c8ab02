package bracketapi

import (
	"sync"
	"time"
)

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// responseCache is a thread-safe response memo bounded by entry count.
// Insertion evicts the oldest entry (by insertion order) only when the cache
// is at capacity; each entry additionally expires independently after its TTL.
type responseCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]cacheEntry
	order    []string // insertion order, oldest first
}

func newResponseCache(capacity int) *responseCache {
	return &responseCache{
		capacity: capacity,
		entries:  make(map[string]cacheEntry, capacity),
	}
}

func (c *responseCache) get(key string, now time.Time) ([]byte, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		c.dropFromOrder(key)
		return nil, false
	}
	return e.data, true
}

func (c *responseCache) set(key string, data []byte, ttl time.Duration, now time.Time) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		// Перезапись не меняет позицию в порядке вставки.
		c.entries[key] = cacheEntry{data: data, expiresAt: now.Add(ttl)}
		return
	}

	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = cacheEntry{data: data, expiresAt: now.Add(ttl)}
	c.order = append(c.order, key)
}

func (c *responseCache) dropFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
