// Package cache implements the optional decision cache the concurrency
// layer may attach to an enforcer: a bounded mapping from request-tuple
// fingerprint to boolean decision, invalidated wholesale on any policy,
// grouping, or model mutation. The default backend is an in-process LRU;
// a Redis backend and an L1/L2 tiered combination of the two are
// available for callers who want a cache larger than process memory.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is the decision-cache contract the enforcer consumes. A cache is
// never shared across enforcer instances -- each instance invalidates
// only its own entries, so sharing one would leak stale decisions across
// mutation boundaries.
type Cache interface {
	// Get returns the cached decision for a request fingerprint.
	Get(key string) (allowed bool, ok bool)
	// Set records the decision for a request fingerprint.
	Set(key string, allowed bool)
	// Delete drops a single fingerprint.
	Delete(key string)
	// Clear drops every cached decision.
	Clear()
}

// LRU is the default decision cache: bounded capacity, least-recently-used
// eviction, optional per-entry TTL.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration

	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits, misses uint64
}

type decision struct {
	key       string
	allowed   bool
	expiresAt time.Time // zero when the cache has no TTL
}

// DefaultCapacity bounds an LRU built with capacity <= 0.
const DefaultCapacity = 8192

// NewLRU builds an LRU decision cache. capacity <= 0 falls back to
// DefaultCapacity; ttl <= 0 disables expiry, leaving eviction purely to
// capacity pressure and explicit invalidation.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

var _ Cache = (*LRU)(nil)

func (c *LRU) Get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return false, false
	}
	d := elem.Value.(*decision)
	if !d.expiresAt.IsZero() && time.Now().After(d.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return false, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return d.allowed, true
}

func (c *LRU) Set(key string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	if elem, ok := c.entries[key]; ok {
		d := elem.Value.(*decision)
		d.allowed = allowed
		d.expiresAt = expires
		c.order.MoveToFront(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
	c.entries[key] = c.order.PushFront(&decision{key: key, allowed: allowed, expiresAt: expires})
}

func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len reports the current number of cached decisions.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports hit/miss counts since construction (Clear does not reset
// them).
func (c *LRU) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRU) removeLocked(elem *list.Element) {
	d := elem.Value.(*decision)
	delete(c.entries, d.key)
	c.order.Remove(elem)
}
