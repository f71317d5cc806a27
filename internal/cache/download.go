package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/libsync/server/internal/models"
)

// DownloadCache memoizes serialized whole-library download payloads keyed by
// (user, cursor, protocol version, filters). A hit short-circuits lock checks
// and queueing entirely.
type DownloadCache struct {
	cache *MemoryCache
	ttl   time.Duration
}

// NewDownloadCache creates a download-response cache with the given TTL
func NewDownloadCache(cache *MemoryCache, ttl time.Duration) *DownloadCache {
	return &DownloadCache{cache: cache, ttl: ttl}
}

// Key derives the cache key for a download request
func (c *DownloadCache) Key(userID string, cursor int64, protocolVersion int, filters string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", userID, cursor, protocolVersion, filters)))
	return "download_" + hex.EncodeToString(h[:])
}

// Get returns a memoized payload, if present
func (c *DownloadCache) Get(key string) (*models.UpdatedElement, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	payload, ok := v.(*models.UpdatedElement)
	return payload, ok
}

// Set memoizes a computed payload
func (c *DownloadCache) Set(key string, payload *models.UpdatedElement) {
	c.cache.Set(key, payload, c.ttl)
}
