// ABOUTME: Thread-safe TTL buffer of recently broadcast events.
// ABOUTME: Lets reconnecting clients replay what they missed via Last-Event-ID.

package hub

import (
	"container/list"
	"sync"
	"time"
)

// backlogEntry stores the timestamp and list element for a buffered event.
type backlogEntry struct {
	event     *Event
	timestamp time.Time
	element   *list.Element
}

// backlog is a thread-safe, TTL-based, size-limited buffer of broadcast
// events in arrival order. Reconnecting clients present the last event ID
// they saw and receive everything recorded after it. Uses a doubly-linked
// list to maintain insertion order for O(1) eviction.
type backlog struct {
	mu      sync.RWMutex
	byID    map[string]*backlogEntry
	order   *list.List // event IDs in arrival order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newBacklog creates a backlog with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func newBacklog(ttl time.Duration, maxSize int) *backlog {
	b := &backlog{
		byID:    make(map[string]*backlogEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go b.cleanup()
	return b
}

// add records an event. If the buffer is at capacity, the oldest entry is
// evicted to make room. Re-adding an existing ID is a no-op.
func (b *backlog) add(e *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byID[e.ID]; exists {
		return
	}

	if len(b.byID) >= b.maxSize {
		b.evictOldest()
	}

	elem := b.order.PushBack(e.ID)
	b.byID[e.ID] = &backlogEntry{
		event:     e,
		timestamp: time.Now(),
		element:   elem,
	}
}

// since returns the unexpired events recorded after the given ID, oldest
// first. An unknown ID returns nil: the caller missed more than the buffer
// holds and there is nothing trustworthy to replay.
func (b *backlog) since(lastID string) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.byID[lastID]
	if !ok {
		return nil
	}

	now := time.Now()
	var events []*Event
	for elem := entry.element.Next(); elem != nil; elem = elem.Next() {
		id, _ := elem.Value.(string)
		e := b.byID[id]
		if now.Sub(e.timestamp) > b.ttl {
			continue
		}
		events = append(events, e.event)
	}
	return events
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (b *backlog) evictOldest() {
	front := b.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(string)
	b.order.Remove(front)
	delete(b.byID, id)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (b *backlog) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.runCleanup()
		case <-b.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the buffer.
func (b *backlog) runCleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for elem := b.order.Front(); elem != nil; {
		next := elem.Next()
		id, _ := elem.Value.(string)
		if entry := b.byID[id]; now.Sub(entry.timestamp) > b.ttl {
			b.order.Remove(elem)
			delete(b.byID, id)
		}
		elem = next
	}
}

// close stops the background cleanup goroutine. Safe to call multiple times.
func (b *backlog) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		close(b.done)
		b.closed = true
	}
}
