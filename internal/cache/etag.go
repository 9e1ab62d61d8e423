package cache

import "time"

// DefaultETagTTL bounds how long a token is trusted without asking the store
const DefaultETagTTL = 30 * time.Second

// ETagCache memoizes the current concurrency token per annotation ID.
// The store stays the source of truth: entries expire after the TTL and are
// dropped whenever a write is rejected or the resource is deleted.
type ETagCache struct {
	store Store
	ttl   time.Duration
}

// NewETagCache creates a cache backed by a fresh MemoryStore
func NewETagCache(ttl time.Duration) *ETagCache {
	if ttl <= 0 {
		ttl = DefaultETagTTL
	}
	return &ETagCache{
		store: NewMemoryStore(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// NewETagCacheWithStore creates a cache over an existing Store
func NewETagCacheWithStore(store Store, ttl time.Duration) *ETagCache {
	if ttl <= 0 {
		ttl = DefaultETagTTL
	}
	return &ETagCache{store: store, ttl: ttl}
}

// Get returns the cached token for id
func (c *ETagCache) Get(id string) (string, bool) {
	return c.store.Get(etagKey(id))
}

// Put records the token for id; empty tokens are ignored
func (c *ETagCache) Put(id, etag string) {
	if id == "" || etag == "" {
		return
	}
	c.store.Set(etagKey(id), etag, c.ttl)
}

// Invalidate drops the token for id
func (c *ETagCache) Invalidate(id string) {
	c.store.Delete(etagKey(id))
}

// Len returns the number of cached tokens
func (c *ETagCache) Len() int {
	return c.store.Len()
}
