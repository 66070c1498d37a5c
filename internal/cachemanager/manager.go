// Package cachemanager provides TTL caches for values that are expensive to
// compute and cheap to keep, such as capability descriptors.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a keyed TTL cache.
type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	// GetWithRefresh is Get that also extends the entry's lifetime to ttl.
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	// Add stores value only if key is absent. It returns the value held by
	// the cache afterwards and whether that value is the one just added.
	Add(ctx context.Context, key K, value V, ttl time.Duration) (V, bool)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
	Count() int
}
