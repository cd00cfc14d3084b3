// Package cachekeys maintains the global ingest timestamp and builds
// response-cache keys from it. Every API response key folds in the
// timestamp, so bumping it after a pipeline run invalidates every cached
// response by construction.
package cachekeys

import (
	"sync"
	"time"
)

// entry holds a cached value with its expiration and insertion order.
type entry struct {
	value      []byte
	expiresAt  time.Time
	insertedAt time.Time
}

// Cache is a thread-safe in-memory cache with optional TTL and max-size
// eviction. A ttl of zero disables expiry, which the timestamp entry relies
// on. When the cache reaches maxSize the oldest entry (by insertion time)
// is evicted. Expired entries are lazily evicted on Get.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*entry
	maxSize int
	ttl     time.Duration
}

// NewCache creates a cache with the given maximum size and TTL. maxSize
// must be >= 1; ttl <= 0 means entries never expire.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		items:   make(map[string]*entry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached value by key. Returns (nil, false) if the key is
// missing or expired.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value. If the cache is at capacity the oldest entry is
// evicted first.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expires time.Time
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}

	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = &entry{
		value:      value,
		expiresAt:  expires,
		insertedAt: now,
	}
}

// GetOrSet returns the value for key, initializing it with init() when the
// key is absent. The init function runs with the cache lock held, so at
// most one initialization happens per key.
func (c *Cache) GetOrSet(key string, init func() []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		if e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
			return e.value
		}
		delete(c.items, key)
	}

	now := time.Now()
	var expires time.Time
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}

	value := init()
	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = &entry{
		value:      value,
		expiresAt:  expires,
		insertedAt: now,
	}
	return value
}

// Invalidate removes a specific key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateAll removes all entries.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, c.maxSize)
}

// Size returns the number of entries currently stored (including expired
// ones that have not been lazily cleaned).
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldest removes the entry with the oldest insertedAt time. Must be
// called with c.mu held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for k, e := range c.items {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
