// Package cache holds the most recent observation per key.
//
// Writes come from a single ingestion loop; reads may come from any goroutine.
// A write older than the cached entry is rejected so a reordered or replayed
// message cannot move the cache backwards.
package cache

import (
	"sort"
	"sync"

	"github.com/rickgao/feedstream/internal/model"
)

// Cache maps a key to its latest versioned value.
type Cache[V model.Versioned] struct {
	mu      sync.RWMutex
	entries map[model.FeedKey]V
}

// New creates an empty cache.
func New[V model.Versioned]() *Cache[V] {
	return &Cache[V]{entries: make(map[model.FeedKey]V)}
}

// Put stores v under key unless the cached entry has a strictly newer version.
// Equal versions overwrite. Returns true when v was stored.
func (c *Cache[V]) Put(key model.FeedKey, v V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[key]; ok && cur.Version() > v.Version() {
		return false
	}
	c.entries[key] = v
	return true
}

// Get returns the cached value and whether it exists.
func (c *Cache[V]) Get(key model.FeedKey) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Delete removes a key.
func (c *Cache[V]) Delete(key model.FeedKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of cached keys.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys, sorted.
func (c *Cache[V]) Keys() []model.FeedKey {
	c.mu.RLock()
	keys := make([]model.FeedKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot returns a copy of every entry.
func (c *Cache[V]) Snapshot() map[model.FeedKey]V {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[model.FeedKey]V, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
