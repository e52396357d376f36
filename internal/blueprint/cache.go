package blueprint

import "sync"

// CacheEntry holds the validators and body of the last successful fetch.
type CacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
}

// Cache keeps one CacheEntry per source URI. It lives as long as its
// owner keeps it and is never written to disk.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]CacheEntry)}
}

// Get returns the entry for uri.
func (c *Cache) Get(uri string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uri]
	return e, ok
}

// Put replaces the entry for uri.
func (c *Cache) Put(uri string, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uri] = e
}
