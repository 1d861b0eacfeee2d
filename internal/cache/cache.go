// Package cache provides an in-process get-or-compute cache with TTLs and
// tag-based invalidation for memoizing reads from external APIs.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry struct {
	value   any
	expires time.Time
	tags    []string
}

// Cache memoizes computed values by key. Concurrent misses on the same key
// share one computation. Expired entries are kept so they can be served
// when a refresh fails.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byTag   map[string]map[string]struct{}
	// epoch increases on every invalidation so results computed before an
	// invalidation are not stored after it.
	epoch uint64
	group singleflight.Group
	now   func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		byTag:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// GetOrCompute returns the cached value for key, computing and storing it
// for ttl when absent or expired. When compute fails and an expired value
// exists, the expired value is returned instead of the error.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, tags []string, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := c.fresh(key); ok {
		return v.(T), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.fresh(key); ok {
			return v, nil
		}

		epoch := c.currentEpoch()
		val, err := compute(ctx)
		if err != nil {
			if stale, ok := c.stale(key); ok {
				return stale, nil
			}
			return nil, err
		}
		c.store(key, val, ttl, tags, epoch)
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.remove(key)
	c.group.Forget(key)
}

// InvalidateTag drops every key stored with the tag.
func (c *Cache) InvalidateTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	for key := range c.byTag[tag] {
		c.remove(key)
		c.group.Forget(key)
	}
	delete(c.byTag, tag)
}

// Len returns the number of stored entries, including expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) fresh(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) stale(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *Cache) store(key string, value any, ttl time.Duration, tags []string, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return
	}
	c.remove(key)
	c.entries[key] = &entry{value: value, expires: c.now().Add(ttl), tags: tags}
	for _, tag := range tags {
		keys, ok := c.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// remove deletes a key and its tag index entries. Callers hold mu.
func (c *Cache) remove(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	for _, tag := range e.tags {
		delete(c.byTag[tag], key)
		if len(c.byTag[tag]) == 0 {
			delete(c.byTag, tag)
		}
	}
	delete(c.entries, key)
}
