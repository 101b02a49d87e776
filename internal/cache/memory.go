package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its expiration time.
type entry[V any] struct {
	val       V
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU cache backed by otter.
type Memory[V any] struct {
	cache      *otter.Cache[string, entry[V]]
	defaultTTL time.Duration
}

var _ Cache[int] = (*Memory[int])(nil)

// NewMemory creates an in-memory cache with the given max entry count and default TTL.
func NewMemory[V any](maxSize int, defaultTTL time.Duration) (*Memory[V], error) {
	c, err := otter.New[string, entry[V]](&otter.Options[string, entry[V]]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry[V]](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory[V]{cache: c, defaultTTL: defaultTTL}, nil
}

// Get retrieves a value from the cache if present and not expired.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores a value with per-entry TTL.
func (m *Memory[V]) Set(_ context.Context, key string, val V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.cache.Set(key, entry[V]{
		val:       val,
		expiresAt: time.Now().Add(ttl),
	})
}

// Delete removes a value from the cache.
func (m *Memory[V]) Delete(_ context.Context, key string) {
	m.cache.Invalidate(key)
}

// Purge removes all values from the cache.
func (m *Memory[V]) Purge(_ context.Context) {
	m.cache.InvalidateAll()
}
