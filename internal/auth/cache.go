package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL-based in-memory cache of verified keys.
// Uses sync.Map for lock-free reads on the hot path. Entries are keyed by the
// SHA-256 of the key so raw keys are never retained.
//
// Stale-while-revalidate: an expired entry is still returned, and exactly one
// caller is told to refresh it in the background, so no request blocks on
// bcrypt after the first verification.
type AuthCache struct {
	store sync.Map      // map[[sha256.Size]byte]*cacheEntry
	ttl   time.Duration // Default: 30s
}

type cacheEntry struct {
	principal  *Principal
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Principal    *Principal
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // the entry expired and this caller owns the refresh
}

// Get looks up the API key in the cache.
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(cacheKey(apiKey))
	if !ok {
		return GetResult{}
	}

	entry := val.(*cacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return GetResult{Principal: entry.principal, Hit: true}
	}

	return GetResult{
		Principal:    entry.principal,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a principal with the configured TTL.
func (c *AuthCache) Set(apiKey string, p *Principal) {
	c.store.Store(cacheKey(apiKey), &cacheEntry{
		principal: p,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(cacheKey(apiKey))
}

func cacheKey(apiKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(apiKey))
}
