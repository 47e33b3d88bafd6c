package rules

import "time"

// DefinitionsCache caches a contract's active definitions so that
// validating a payload does not hit the database per call. Swappable
// for Redis or other implementations.
type DefinitionsCache interface {
	// Get retrieves cached definitions, nil on miss or expiry
	Get() []*Definition

	// Set stores definitions in the cache
	Set(defs []*Definition)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid reports whether the cache holds usable data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults: no TTL, invalidate on
// mutation only.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
