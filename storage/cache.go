package storage

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kartikbazzad/bunbase/jsondb/internal/metrics"
)

// Cache keeps recently read documents in memory. It is best effort: the
// files on disk stay authoritative, and every write or delete through the
// Store invalidates the entry. Entries expire after the TTL and the least
// recently used entry is evicted once capacity is reached.
//
// A nil *Cache is valid and caches nothing.
type Cache struct {
	lru *expirable.LRU[string, Document]
}

// NewCache returns a cache holding up to capacity documents for ttl.
// A capacity <= 0 disables caching; ttl <= 0 disables expiry.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		return nil
	}
	return &Cache{lru: expirable.NewLRU[string, Document](capacity, nil, ttl)}
}

func cacheKey(collection, id string) string {
	return collection + "/" + id
}

// Get returns a copy of the cached document.
func (c *Cache) Get(key string) (Document, bool) {
	if c == nil {
		return nil, false
	}
	doc, ok := c.lru.Get(key)
	if !ok {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return doc.Clone(), true
}

// Put stores a copy of doc.
func (c *Cache) Put(key string, doc Document) {
	if c == nil {
		return
	}
	c.lru.Add(key, doc.Clone())
}

// Remove evicts one key.
func (c *Cache) Remove(key string) {
	if c == nil {
		return
	}
	c.lru.Remove(key)
}

// RemovePrefix evicts every key starting with prefix.
func (c *Cache) RemovePrefix(prefix string) {
	if c == nil {
		return
	}
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Purge empties the cache.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
