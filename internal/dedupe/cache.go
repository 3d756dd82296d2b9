// ABOUTME: Thread-safe bounded TTL cache of recently performed actions
// ABOUTME: Used by the OTP gateway to enforce a resend cooldown per phone and purpose

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	at      time.Time
	element *list.Element
}

// Cache remembers keys for ttl after they are marked. When full, the least
// recently marked key is evicted. A zero ttl disables it: nothing is ever
// reported as recent.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. A background goroutine sweeps expired entries until
// Close is called.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// TTL returns the cooldown window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Check reports whether key was marked less than ttl ago.
func (c *Cache) Check(key string) bool {
	return c.Remaining(key) > 0
}

// Remaining returns how much of key's window is left, or zero.
func (c *Cache) Remaining(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(key)
}

func (c *Cache) remainingLocked(key string) time.Duration {
	entry, ok := c.seen[key]
	if !ok || c.ttl <= 0 {
		return 0
	}
	left := c.ttl - c.now().Sub(entry.at)
	if left < 0 {
		return 0
	}
	return left
}

// CheckAndMark atomically marks key unless it is still inside its window.
// It returns the time left when key was refused, and zero when key was
// marked.
func (c *Cache) CheckAndMark(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if left := c.remainingLocked(key); left > 0 {
		return left
	}
	c.markLocked(key)
	return 0
}

// Mark records key as performed now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Forget removes key, e.g. when the action it guarded failed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string) {
	now := c.now()

	if entry, exists := c.seen[key]; exists {
		entry.at = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{at: now, element: elem}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired entries.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.at) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
