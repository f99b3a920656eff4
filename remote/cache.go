package remote

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	operation string
	value     json.RawMessage
	expiresAt time.Time
}

// queryCache is a bounded, TTL-based cache for query results keyed by
// (operation, serialized variables). Eviction is insertion-ordered: once the
// bound is exceeded the oldest entry goes, regardless of access pattern.
type queryCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*list.Element
	order      *list.List // front = oldest inserted
}

func newQueryCache(maxEntries int, ttl time.Duration) *queryCache {
	return &queryCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (c *queryCache) get(key string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *queryCache) set(key, operation string, value json.RawMessage) {
	if c == nil || c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		// Re-insertion refreshes the value and TTL but keeps the original
		// position in the eviction order.
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(c.ttl)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.order.PushBack(&cacheEntry{
		key:       key,
		operation: operation,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// invalidateOperations drops every cached entry belonging to any of the given
// query families. Called after a successful mutation.
func (c *queryCache) invalidateOperations(operations []string) {
	if c == nil || len(operations) == 0 {
		return
	}
	ops := make(map[string]struct{}, len(operations))
	for _, op := range operations {
		ops[op] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		entry := el.Value.(*cacheEntry)
		if _, hit := ops[entry.operation]; hit {
			c.order.Remove(el)
			delete(c.entries, entry.key)
		}
	}
}

func (c *queryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
