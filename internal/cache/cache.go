package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store is the key/value backend of the ETag cache
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
	Len() int
}

// etagKey derives the cache key for an annotation ID
func etagKey(id string) string {
	hash := sha256.Sum256([]byte(id))
	return "annorepair:etag:v1:" + hex.EncodeToString(hash[:])
}
