// Package cache provides a small in-process TTL cache for memoizing
// idempotent upstream lookups.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe key/value cache whose entries expire after a
// per-entry duration. Entries are replaced on write, never mutated.
// It is not a source of truth: callers re-fetch transparently on a miss.
type TTL[K comparable, V any] struct {
	defaultTTL time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	entries map[K]entry[V]
}

// New creates a cache whose Set falls back to defaultTTL.
func New[K comparable, V any](defaultTTL time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		defaultTTL: defaultTTL,
		now:        time.Now,
		entries:    make(map[K]entry[V]),
	}
}

// WithClock replaces the time source, for tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

// Get returns the value only while now is before its expiry. A stale entry
// is treated as absent and removed.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.now().Before(e.expiresAt) {
		return e.value, true
	}

	c.mu.Lock()
	// Another writer may have refreshed the key since the read lock was dropped.
	if cur, still := c.entries[key]; still && !c.now().Before(cur.expiresAt) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return zero, false
}

// Set stores value under key, overwriting unconditionally. A non-positive
// ttl uses the cache default.
func (c *TTL[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key if present.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Cleanup removes every stale entry and returns how many were dropped.
func (c *TTL[K, V]) Cleanup() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, stale ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
