package cache

import (
	"cmp"
	"iter"
	"slices"
	"sync"
)

// Cache is a generic thread-safe cache with a soft limit.
// When the cache exceeds softLimit, the least recently used quarter of the
// entries is evicted.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*cacheEntry[V]
	softLimit int
	tick      int64 // Monotonic access counter
	onEvict   func(K, V)
	evictions uint64
}

type cacheEntry[V any] struct {
	value V
	atime int64
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers fn to run, under the cache lock, for every entry
// removed by eviction, Delete or Clear.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// New creates a new cache with the given soft limit.
// A softLimit of 0 means unlimited.
func New[K comparable, V any](softLimit int, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		entries:   make(map[K]*cacheEntry[V]),
		softLimit: softLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.tick++
	entry.atime = c.tick
	return entry.value, true
}

// Set stores a value in the cache, replacing any previous value without
// calling the eviction hook.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value)
}

// GetOrCreate returns the cached value or stores the result of create.
// create runs under the lock, so it runs at most once per missing key.
// If create fails, nothing is stored.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.tick++
		entry.atime = c.tick
		return entry.value, nil
	}
	value, err := create()
	if err != nil {
		return value, err
	}
	c.storeLocked(key, value)
	return value, nil
}

func (c *Cache[K, V]) storeLocked(key K, value V) {
	c.tick++
	c.entries[key] = &cacheEntry[V]{value: value, atime: c.tick}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evictOldest()
	}
}

// Delete removes an entry. It returns true if the entry was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	if c.onEvict != nil {
		c.onEvict(key, entry.value)
	}
	return true
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for k, e := range c.entries {
			c.onEvict(k, e.value)
		}
	}
	c.entries = make(map[K]*cacheEntry[V])
	c.tick = 0
}

// All iterates over a snapshot of the entries in no particular order.
func (c *Cache[K, V]) All() iter.Seq2[K, V] {
	c.mu.Lock()
	keys := make([]K, 0, len(c.entries))
	vals := make([]V, 0, len(c.entries))
	for k, e := range c.entries {
		keys = append(keys, k)
		vals = append(vals, e.value)
	}
	c.mu.Unlock()

	return func(yield func(K, V) bool) {
		for i := range keys {
			if !yield(keys[i], vals[i]) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the soft limit.
func (c *Cache[K, V]) Capacity() int {
	return c.softLimit
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Len:       len(c.entries),
		Capacity:  c.softLimit,
		Evictions: c.evictions,
	}
}

// evictOldest removes entries until 3/4 of softLimit remain.
// Caller must hold c.mu.
func (c *Cache[K, V]) evictOldest() {
	targetSize := max(c.softLimit*3/4, 1)
	toEvict := len(c.entries) - targetSize
	if toEvict <= 0 {
		return
	}

	type entry struct {
		key   K
		atime int64
	}
	entries := make([]entry, 0, len(c.entries))
	for key, e := range c.entries {
		entries = append(entries, entry{key: key, atime: e.atime})
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.atime, b.atime) })

	for _, e := range entries[:toEvict] {
		if c.onEvict != nil {
			c.onEvict(e.key, c.entries[e.key].value)
		}
		delete(c.entries, e.key)
		c.evictions++
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the soft limit.
	Capacity int
	// Evictions counts entries removed by the soft limit.
	Evictions uint64
}
