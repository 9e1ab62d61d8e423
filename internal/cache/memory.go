package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store with per-entry expiry
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a memory store; expired entries are purged every cleanupInterval
func NewMemoryStore(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value that has not expired
func (s *MemoryStore) Get(key string) (string, bool) {
	if val, found := s.cache.Get(key); found {
		str, ok := val.(string)
		return str, ok
	}
	return "", false
}

// Set stores a value with the given TTL (0 means the store default)
func (s *MemoryStore) Set(key, value string, ttl time.Duration) {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	s.cache.Set(key, value, ttl)
}

// Delete removes a value
func (s *MemoryStore) Delete(key string) {
	s.cache.Delete(key)
}

// Len returns the number of entries, including expired ones not yet purged
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
