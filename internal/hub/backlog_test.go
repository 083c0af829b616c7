// ABOUTME: Tests for the event replay backlog.
// ABOUTME: Validates ordering, TTL expiration, size limits, and eviction.

package hub

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backlogEvent(id string) *Event {
	return &Event{ID: id, Type: EventNotification}
}

func TestBacklog_SinceReturnsLaterEvents(t *testing.T) {
	b := newBacklog(5*time.Minute, 100)
	defer b.close()

	b.add(backlogEvent("a"))
	b.add(backlogEvent("b"))
	b.add(backlogEvent("c"))

	events := b.since("a")
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
	assert.Equal(t, "c", events[1].ID)

	assert.Empty(t, b.since("c"))
}

func TestBacklog_UnknownIDReturnsNil(t *testing.T) {
	b := newBacklog(5*time.Minute, 100)
	defer b.close()

	b.add(backlogEvent("a"))

	assert.Nil(t, b.since("never-seen"))
}

func TestBacklog_EvictsOldestAtCapacity(t *testing.T) {
	b := newBacklog(5*time.Minute, 3)
	defer b.close()

	for i := 0; i < 5; i++ {
		b.add(backlogEvent(fmt.Sprintf("event-%d", i)))
	}

	// event-0 and event-1 were evicted
	assert.Nil(t, b.since("event-0"))
	assert.Nil(t, b.since("event-1"))

	events := b.since("event-2")
	require.Len(t, events, 2)
	assert.Equal(t, "event-3", events[0].ID)
	assert.Equal(t, "event-4", events[1].ID)
}

func TestBacklog_SinceSkipsExpired(t *testing.T) {
	b := newBacklog(20*time.Millisecond, 100)
	defer b.close()

	b.add(backlogEvent("old"))
	b.add(backlogEvent("also-old"))

	time.Sleep(40 * time.Millisecond)

	// Both are expired; since("old") must not replay "also-old"
	assert.Empty(t, b.since("old"))
}

func TestBacklog_DuplicateAddIgnored(t *testing.T) {
	b := newBacklog(5*time.Minute, 100)
	defer b.close()

	b.add(backlogEvent("a"))
	b.add(backlogEvent("b"))
	b.add(backlogEvent("a")) // duplicate

	events := b.since("a")
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ID)
}

func TestBacklog_RunCleanupRemovesExpired(t *testing.T) {
	b := newBacklog(10*time.Millisecond, 100)
	defer b.close()

	b.add(backlogEvent("a"))
	b.add(backlogEvent("b"))

	time.Sleep(20 * time.Millisecond)
	b.runCleanup()

	b.mu.RLock()
	remaining := len(b.byID)
	b.mu.RUnlock()
	assert.Equal(t, 0, remaining)
}

func TestBacklog_CloseIsIdempotent(t *testing.T) {
	b := newBacklog(time.Minute, 10)
	b.close()
	b.close() // must not panic
}
