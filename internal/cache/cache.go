// Package cache provides the shared TTL result cache for recall
// responses. Entries are keyed by the full normalized parameter tuple
// and populated under per-key singleflight, so a miss storm on one
// query never stalls unrelated keys and never computes the same answer
// twice concurrently.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a cached result stays fresh
const DefaultTTL = 300 * time.Second

// DefaultSize is the entry capacity when none is configured
const DefaultSize = 1000

// entry pairs a cached value with its expiry
type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is an LRU with per-entry TTL and singleflight population.
// Values are passed through the clone function on every store and load
// so callers can never mutate a cached payload.
type Cache[T any] struct {
	entries *lru.Cache[string, *entry[T]]
	group   singleflight.Group
	ttl     time.Duration
	clone   func(T) T
	mu      sync.RWMutex
	now     func() time.Time
}

// New creates a Cache. size <= 0 takes DefaultSize, ttl <= 0 DefaultTTL.
// clone must return an independent copy; pass an identity function only
// for immutable values.
func New[T any](size int, ttl time.Duration, clone func(T) T) *Cache[T] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entries, err := lru.New[string, *entry[T]](size)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Cache[T]{
		entries: entries,
		ttl:     ttl,
		clone:   clone,
		now:     time.Now,
	}
}

// GetOrCompute returns the cached value for key, or runs compute and
// caches its result. The bool reports whether the value was served from
// cache. bypass skips the lookup but still refreshes the entry, for
// freshness-critical callers. Errors from compute are not cached.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key string, bypass bool, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	if !bypass {
		if value, ok := c.lookup(key); ok {
			return value, true, nil
		}
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have populated the key while this one
		// was queued on the flight
		if !bypass {
			if value, ok := c.lookup(key); ok {
				return value, nil
			}
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value)
		return value, nil
	})
	if err != nil {
		return zero, false, err
	}
	return c.clone(result.(T)), false, nil
}

// lookup returns a fresh clone of an unexpired entry
func (c *Cache[T]) lookup(key string) (T, bool) {
	var zero T
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries.Get(key)
	if !ok {
		c.mu.RUnlock()
		return zero, false
	}
	if now.After(e.expiresAt) {
		c.mu.RUnlock()
		c.mu.Lock()
		c.entries.Remove(key)
		c.mu.Unlock()
		return zero, false
	}
	value := c.clone(e.value)
	c.mu.RUnlock()
	return value, true
}

// store saves a cloned value under key with a fresh TTL
func (c *Cache[T]) store(key string, value T) {
	e := &entry[T]{
		value:     c.clone(value),
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Lock()
	c.entries.Add(key, e)
	c.mu.Unlock()
}

// Purge drops every entry, for use after bulk ingestion or a new
// consolidation generation
func (c *Cache[T]) Purge() {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
}

// Len returns the number of resident entries, expired ones included
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// Key builds a deterministic cache key from a normalized parameter
// tuple. Order matters; callers must always pass fields in the same
// sequence.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
