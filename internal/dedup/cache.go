package dedup

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultSessionCacheSize bounds the session cache when no size is configured.
const DefaultSessionCacheSize = 2000

// Key prefixes keep the identity namespaces apart inside one cache.
const (
	keyPrefixID    = "id:"
	keyPrefixTitle = "title:"
	keyPrefixFile  = "file:"
)

// SessionCache is the bounded set of identity keys seen during this process
// lifetime. Entries are evicted oldest first once capacity is reached.
//
// Lookups never refresh an entry, so eviction order is insertion order.
type SessionCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, struct{}]
}

// NewSessionCache creates a cache holding at most capacity keys.
func NewSessionCache(capacity int) *SessionCache {
	if capacity <= 0 {
		capacity = DefaultSessionCacheSize
	}
	lru, err := simplelru.NewLRU[string, struct{}](capacity, nil)
	if err != nil {
		// NewLRU only fails on a non-positive size.
		panic(err)
	}
	return &SessionCache{lru: lru}
}

// Contains reports whether any of the keys is present.
func (c *SessionCache) Contains(keys ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containsLocked(keys)
}

// Reserve inserts all keys if none of them is present and reports whether it
// did. Check and insert happen under one lock, so of two concurrent callers
// reserving an overlapping key set exactly one succeeds.
func (c *SessionCache) Reserve(keys ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.containsLocked(keys) {
		return false
	}
	for _, k := range keys {
		c.lru.Add(k, struct{}{})
	}
	return true
}

// Add inserts keys unconditionally.
func (c *SessionCache) Add(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if !c.lru.Contains(k) {
			c.lru.Add(k, struct{}{})
		}
	}
}

// Release removes keys, used when an admission fails after its reservation.
func (c *SessionCache) Release(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.lru.Remove(k)
	}
}

// Len returns the number of cached keys.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *SessionCache) containsLocked(keys []string) bool {
	for _, k := range keys {
		if c.lru.Contains(k) {
			return true
		}
	}
	return false
}

// IdentityKeys returns the cache keys of a paper. Empty identifiers produce no key.
func IdentityKeys(externalID, normalizedTitle, filename string) []string {
	keys := make([]string, 0, 3)
	if externalID != "" {
		keys = append(keys, keyPrefixID+externalID)
	}
	if normalizedTitle != "" {
		keys = append(keys, keyPrefixTitle+normalizedTitle)
	}
	if filename != "" {
		keys = append(keys, keyPrefixFile+filename)
	}
	return keys
}
