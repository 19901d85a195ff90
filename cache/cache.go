// Package cache provides the short-TTL read caches used in front of the
// prompt store.
package cache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the freshness window used by the gallery's caches.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value     V
	fetchedAt time.Time
}

// Cache is a TTL-bounded read-through cache.  Entries expire on read; there
// is no background sweep and no size bound.  Gallery working sets are small
// enough that expiry-on-read is sufficient.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
}

// New returns a cache whose entries are valid for ttl.  now is the clock used
// for freshness checks; pass time.Now outside of tests.
func New[V any](ttl time.Duration, now func() time.Time) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		now:     now,
		entries: map[string]entry[V]{},
	}
}

// GetOrFetch returns the cached value for key if it is younger than the TTL,
// and otherwise invokes fetch, stores the result, and returns it.  Fetch
// errors are returned without disturbing any stale entry.
func (c *Cache[V]) GetOrFetch(key string, fetch func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, fetchedAt: c.now()}
	c.mu.Unlock()

	return v, nil
}

// Invalidate drops the entry for key, if any.  Callers invoke it after any
// write that would make the cached value stale.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix drops every entry whose key starts with prefix.  Callers
// that key entries by a compound of entity ID and query parameters use it to
// drop all variants for the entity at once.
func (c *Cache[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}
