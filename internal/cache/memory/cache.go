// Package memory provides an in-process cache for local development and
// tests. Production deployments use the Redis implementation so that crawl
// workers can scale beyond one process.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/akerley/webrank/internal/search"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is a TTL map guarded by a mutex.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock constructs a Cache with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Cache {
	c := New()
	c.now = now
	return c
}

// Get returns the value for key or search.ErrCacheMiss when absent/expired.
func (c *Cache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", search.ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", search.ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value under key. A non-positive ttl means no expiry.
func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Incr atomically increments the integer stored at key, creating it at 1.
func (c *Cache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	var n int64
	if ok && (e.expiresAt.IsZero() || c.now().Before(e.expiresAt)) {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err == nil {
			n = parsed
		}
	}
	n++
	c.entries[key] = entry{value: strconv.FormatInt(n, 10)}
	return n, nil
}
