// Package cache provides a bounded LRU cache used for prepared statements.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the default maximum number of cached entries.
const DefaultCapacity = 1000

// LRU is a thread-safe least-recently-used cache.
// The optional evict callback runs for every entry that leaves the cache.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	lruList  *list.List
	onEvict  func(K, V)

	// Metrics using atomic for lock-free access.
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates a cache holding at most capacity entries.
// A non-positive capacity falls back to DefaultCapacity.
func NewLRU[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		lruList:  list.New(),
		onEvict:  onEvict,
	}
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.lruList.MoveToFront(elem)
	c.hits.Add(1)
	return elem.Value.(*entry[K, V]).value, true
}

// Peek returns the cached value without touching recency or statistics.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Set stores value under key, evicting the least recently used entry when full.
// A replaced value is passed to the evict callback.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lruList.MoveToFront(elem)
		e := elem.Value.(*entry[K, V])
		old := e.value
		e.value = value
		if c.onEvict != nil {
			c.onEvict(key, old)
		}
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evictOldest()
	}

	c.items[key] = c.lruList.PushFront(&entry[K, V]{key: key, value: value})
}

// Remove deletes key from the cache.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// evictOldest must be called with the lock held.
func (c *LRU[K, V]) evictOldest() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.evictions.Add(1)
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.lruList.Remove(elem)
	e := elem.Value.(*entry[K, V])
	delete(c.items, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}

// Clear removes every entry, invoking the evict callback for each.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for elem := c.lruList.Front(); elem != nil; elem = elem.Next() {
			e := elem.Value.(*entry[K, V])
			c.onEvict(e.key, e.value)
		}
	}
	c.items = make(map[K]*list.Element, c.capacity)
	c.lruList.Init()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lruList.Len()
}

// Stats holds cache performance metrics.
type Stats struct {
	Size      int     // Current number of cached entries.
	Capacity  int     // Maximum capacity.
	Hits      uint64  // Number of successful lookups.
	Misses    uint64  // Number of failed lookups.
	Evictions uint64  // Number of capacity evictions.
	HitRate   float64 // hits / total requests.
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	size := c.Len()
	hits := c.hits.Load()
	misses := c.misses.Load()

	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:      size,
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   hitRate,
	}
}
