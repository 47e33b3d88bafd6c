package rules

import (
	"sync"
	"time"
)

// InMemoryDefinitionsCache is a thread-safe in-memory
// DefinitionsCache.
type InMemoryDefinitionsCache struct {
	defs     []*Definition
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	valid    bool
}

func NewInMemoryDefinitionsCache(config CacheConfig) *InMemoryDefinitionsCache {
	return &InMemoryDefinitionsCache{config: config}
}

// Get returns the cached definitions, or nil when the cache is
// invalid or past its TTL.
func (c *InMemoryDefinitionsCache) Get() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Copy so callers cannot mutate the cached slice.
	defs := make([]*Definition, len(c.defs))
	copy(defs, c.defs)
	return defs
}

func (c *InMemoryDefinitionsCache) Set(defs []*Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defs = make([]*Definition, len(defs))
	copy(c.defs, defs)
	c.cachedAt = time.Now()
	c.valid = true
}

func (c *InMemoryDefinitionsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	c.defs = nil
}

func (c *InMemoryDefinitionsCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.valid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
