// Package cache provides the in-process caches used by the reconciliation
// engine: TTL-bound maps, in-flight request coalescing and a
// stale-while-revalidate layer over the persistent response store.
package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// TTL is a concurrency-safe map whose entries expire ttl after they were set.
// Expired entries read as misses and are dropped lazily; nothing else
// removes them.
type TTL[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     Clock
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value V
	setAt time.Time
}

// NewTTL creates a TTL cache. A nil clock uses time.Now.
func NewTTL[V any](ttl time.Duration, clock Clock) *TTL[V] {
	if clock == nil {
		clock = time.Now
	}
	return &TTL[V]{
		ttl:     ttl,
		now:     clock,
		entries: make(map[string]ttlEntry[V]),
	}
}

// Get returns the value for key if it was set less than ttl ago.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.setAt) >= c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry[V]{value: value, setAt: c.now()}
}

// Len returns the number of stored entries, including expired ones not yet
// read.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured lifetime.
func (c *TTL[V]) TTL() time.Duration {
	return c.ttl
}
