package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiration
}

// TTLCache is a goroutine-safe map cache with one TTL for every entry.
// Expired entries are dropped lazily on read; Clear empties it.
type TTLCache[K comparable, V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[K]entry[V]
}

// Options controls construction of a TTLCache.
type Options struct {
	// TTL applies to every Set. Zero or negative keeps entries until Clear.
	TTL time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// NewTTLCache constructs an empty cache.
func NewTTLCache[K comparable, V any](opts Options) *TTLCache[K, V] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TTLCache[K, V]{
		ttl:   opts.TTL,
		now:   now,
		items: make(map[K]entry[V]),
	}
}

func (c *TTLCache[K, V]) expired(e entry[V], at time.Time) bool {
	return !e.expiresAt.IsZero() && !at.Before(e.expiresAt)
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.expired(e, c.now()) {
		return e.value, true
	}

	// a concurrent Set may have replaced the entry since the read lock was dropped
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if !c.expired(cur, c.now()) {
		return cur.value, true
	}
	delete(c.items, key)
	return zero, false
}

func (c *TTLCache[K, V]) Set(key K, value V) {
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: exp}
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V])
}

// Ensure TTLCache implements Cache at compile time.
var _ Cache[string, int] = (*TTLCache[string, int])(nil)
