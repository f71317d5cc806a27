package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// WriteTokenCache suppresses double-application of retried writes from the
// same client. Tokens are optional idempotency hints: an entry exists only
// after the first successful write that carried the token, and any later
// request presenting the same (credential, token) pair must fail 412 before
// other processing.
type WriteTokenCache struct {
	cache *MemoryCache
	ttl   time.Duration
}

// Token length bounds for client-chosen write tokens
const (
	MinWriteTokenLength = 5
	MaxWriteTokenLength = 32
)

// NewWriteTokenCache creates a write-token cache with the given entry TTL
func NewWriteTokenCache(cache *MemoryCache, ttl time.Duration) *WriteTokenCache {
	return &WriteTokenCache{cache: cache, ttl: ttl}
}

// ValidToken reports whether the token satisfies the length bounds
func ValidToken(token string) bool {
	return len(token) >= MinWriteTokenLength && len(token) <= MaxWriteTokenLength
}

// Exists reports whether the (credential, token) pair was already used
func (c *WriteTokenCache) Exists(credential, token string) bool {
	_, ok := c.cache.Get(tokenKey(credential, token))
	return ok
}

// Mark records the pair after the first successful write that carried it
func (c *WriteTokenCache) Mark(credential, token string) {
	c.cache.Set(tokenKey(credential, token), true, c.ttl)
}

// tokenKey scopes a client-chosen token by hashing it with the credential,
// so identical tokens from different callers never collide.
func tokenKey(credential, token string) string {
	h := sha256.Sum256([]byte(credential + "\x00" + token))
	return "writetoken_" + hex.EncodeToString(h[:])
}
