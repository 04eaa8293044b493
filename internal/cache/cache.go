// Package cache provides a concurrency-safe TTL key/value store with lazy
// eviction on read and a ticker-driven background sweep.
package cache

import (
	"sync"
	"time"
)

// DefaultSweepInterval is used when Options.SweepInterval is zero.
const DefaultSweepInterval = time.Minute

// Entry is a stored value with the time it was inserted and its lifetime.
type Entry[T any] struct {
	Data       T
	InsertedAt time.Time
	TTL        time.Duration
}

func (e Entry[T]) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// Options controls cache construction. A negative SweepInterval disables the
// background sweeper (tests drive Sweep directly).
type Options struct {
	SweepInterval time.Duration
	Now           func() time.Time
}

// Cache maps string keys to values of type T. All methods are safe for
// concurrent use.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper unless disabled.
func New[T any](opts Options) *Cache[T] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache[T]{
		entries: make(map[string]Entry[T]),
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	interval := opts.SweepInterval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	if interval > 0 {
		go c.runSweeper(interval)
	} else {
		close(c.done)
	}
	return c
}

// Get returns the value for key. Stale entries are evicted and reported as
// misses even if the sweeper has not reached them yet.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if e.expired(now) {
		c.mu.Lock()
		if stale, exists := c.entries[key]; exists && stale.expired(now) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.Data, true
}

// Set stores value under key for ttl. A non-positive ttl deletes the key.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		c.Delete(key)
		return
	}
	c.mu.Lock()
	c.entries[key] = Entry[T]{Data: value, InsertedAt: c.now(), TTL: ttl}
	c.mu.Unlock()
}

func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeleteFunc removes every entry for which match returns true. match runs
// under the write lock and must not call back into the cache.
func (c *Cache[T]) DeleteFunc(match func(key string, value T) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if match(k, e.Data) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry[T])
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts all expired entries and returns how many were removed.
func (c *Cache[T]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

func (c *Cache[T]) runSweeper(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
