// Package cache provides the read-path result cache: deterministic sha256
// keys over the operation identity and a TTL-bounded in-memory store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// Key derives the cache key for one operation execution. The schema checksum
// participates so a redeploy invalidates every prior entry; the scope string
// partitions entries for row-filtered operations so tenants never share a
// slot. Variables are marshaled with sorted keys, so two requests that bind
// the same values produce the same key regardless of argument order.
func Key(schemaChecksum, operation string, variables map[string]any, scope string) string {
	h := sha256.New()
	h.Write([]byte(schemaChecksum))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	h.Write([]byte{0})
	if len(variables) > 0 {
		// encoding/json sorts map keys.
		data, err := json.Marshal(variables)
		if err == nil {
			h.Write(data)
		}
	}
	h.Write([]byte{0})
	h.Write([]byte(scope))
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL-bounded map. Expired entries are dropped lazily on read and
// swept opportunistically on write.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Put stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops the entry under key, if any.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of live entries, counting any not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
