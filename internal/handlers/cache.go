package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/flowgraph/internal/expressions"
)

// MemoryCache is an in-process VariableCache. Entries expire lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// GetVariable returns a copy of the cached value.
func (c *MemoryCache) GetVariable(_ context.Context, name string) (any, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, name)
		c.mu.Unlock()
		return nil, false, nil
	}
	return expressions.CopyValue(e.value), true, nil
}

// SetVariable stores value. A zero ttl never expires.
func (c *MemoryCache) SetVariable(_ context.Context, name string, value any, ttl time.Duration) error {
	e := cacheEntry{value: expressions.CopyValue(value)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	return nil
}

var _ VariableCache = (*MemoryCache)(nil)
