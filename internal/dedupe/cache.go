// ABOUTME: TTL cache that answers "have I seen this key recently?"
// ABOUTME: Suppresses repeat cache write-backs when misses for one URL land close together

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache tracks recently seen keys for a bounded window. It is safe for
// concurrent use and holds at most maxSize keys, evicting the oldest
// when full. A background sweeper drops expired keys so an idle cache
// does not pin memory.
type Cache struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // oldest key at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache that remembers keys for ttl and caps itself at
// maxSize entries. Call Close when done to stop the sweeper.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark reports whether key was seen within the TTL, marking it
// as seen either way. The check and the mark happen under one lock so
// concurrent callers for the same key agree on exactly one first-seen.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.keys[key]; ok {
		seen := now.Sub(e.at) < c.ttl
		e.at = now
		c.order.MoveToBack(e.elem)
		return seen
	}

	if len(c.keys) >= c.maxSize {
		c.evictOldest()
	}
	c.keys[key] = &entry{at: now, elem: c.order.PushBack(key)}
	return false
}

// evictOldest drops the front of the order list. Caller holds mu.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.keys, key)
}

// sweep periodically drops expired keys. The cadence tracks the TTL so
// short windows do not leave stale keys sitting around for long.
func (c *Cache) sweep() {
	every := c.ttl
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) dropExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.keys {
		if now.Sub(e.at) >= c.ttl {
			c.order.Remove(e.elem)
			delete(c.keys, key)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
