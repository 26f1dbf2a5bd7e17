package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL expiry. Entries are
// swept by a background goroutine; Stop releases it.
type Cache[V any] struct {
	mu          sync.RWMutex
	items       map[string]item[V]
	ttl         time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func New[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		items:       make(map[string]item[V]),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) cleanup() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, it := range c.items {
				if now.After(it.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop terminates the background sweeper.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
