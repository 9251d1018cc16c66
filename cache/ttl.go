package cache

import (
	"sync"
	"time"
)

// TTLCache is a bounded in-memory cache with per-entry expiry. It backs the
// classifier hot cache and the price cache when Redis is unavailable, and is
// injectable so tests can supply a deterministic clock.
type TTLCache struct {
	mu       sync.RWMutex
	entries  map[string]ttlEntry
	ttl      time.Duration
	maxSize  int
	now      func() time.Time
	lastScan time.Time
}

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewTTLCache creates a TTL cache. maxSize bounds memory; when full, expired
// entries are evicted first, then the write is refused silently (callers fall
// back to the slower tier).
func NewTTLCache(ttl time.Duration, maxSize int) *TTLCache {
	return &TTLCache{
		entries: make(map[string]ttlEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetClock replaces the cache clock, for tests
func (c *TTLCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value and whether it is present and unexpired
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value under the cache's default TTL
func (c *TTLCache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL
func (c *TTLCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.maxSize {
		c.evictExpired(now)
		if len(c.entries) >= c.maxSize {
			if _, exists := c.entries[key]; !exists {
				return
			}
		}
	}

	c.entries[key] = ttlEntry{value: value, expiresAt: now.Add(ttl)}
}

// SetIfAbsent stores a marker only when no unexpired entry exists for the key.
// Returns true when this call won the key.
func (c *TTLCache) SetIfAbsent(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.entries[key]; ok && now.Before(entry.expiresAt) {
		return false
	}
	if len(c.entries) >= c.maxSize {
		c.evictExpired(now)
	}
	c.entries[key] = ttlEntry{value: struct{}{}, expiresAt: now.Add(ttl)}
	return true
}

// Delete removes a key
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictExpired must be called with the write lock held
func (c *TTLCache) evictExpired(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.lastScan = now
}
