// Package cache provides short-lived read caching for aggregate queries.
package cache

import (
	"context"
	"time"
)

// Cache is a keyed TTL cache. Implementations must be safe for concurrent use.
type Cache[V any] interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) (V, bool)
	// Set stores a value with the given TTL. A zero TTL uses the cache default.
	Set(ctx context.Context, key string, val V, ttl time.Duration)
	// Delete removes a cached value.
	Delete(ctx context.Context, key string)
	// Purge removes all cached values.
	Purge(ctx context.Context)
}
