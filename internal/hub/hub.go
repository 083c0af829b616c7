// ABOUTME: In-memory fan-out hub for connected client views
// ABOUTME: Publishes gateway events to SSE subscribers with connect-order targeting

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// backlogTTL and backlogSize bound the replay buffer for reconnecting
	// clients. Offline-first clients drop and reconnect constantly, so the
	// window is kept short.
	backlogTTL  = 5 * time.Minute
	backlogSize = 256
)

// Event names delivered to client views.
const (
	// EventControllerChange tells views a new generation took over
	EventControllerChange = "controllerchange"
	// EventNotification carries a displayed notification
	EventNotification = "notification"
	// EventSync wakes a view to run its background sync work
	EventSync = "sync"
	// EventFocus asks one view to bring itself to the foreground
	EventFocus = "focus"
)

// Event is one message delivered to connected client views.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh ID and a JSON-encoded payload.
// A nil payload produces an event with no data.
func NewEvent(eventType string, payload any) (*Event, error) {
	e := &Event{
		ID:   uuid.New().String(),
		Type: eventType,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding event payload: %w", err)
		}
		e.Data = data
	}
	return e, nil
}

// client is one connected view: a buffered event channel plus its position
// in connect order.
type client struct {
	id          string
	ch          chan *Event
	connectedAt time.Time
}

// Hub provides in-memory pub/sub from the gateway to connected client views.
// Views subscribe (one subscription per SSE stream) and receive events as
// they are published. Publishing never blocks: events are dropped for
// subscribers whose channels are full.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	order   []string // client IDs in connect order (oldest first)
	backlog *backlog
	logger  *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		backlog: newBacklog(backlogTTL, backlogSize),
		logger:  logger.With("component", "hub"),
	}
}

// Subscribe registers a client view. Returns the event channel and the
// client ID. The subscription is automatically cleaned up when ctx is
// cancelled.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *Event, string) {
	c := &client{
		id:          uuid.New().String(),
		ch:          make(chan *Event, subscriberBufferSize),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.order = append(h.order, c.id)
	h.mu.Unlock()

	h.logger.Debug("client connected", "client_id", c.id)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Unsubscribe(c.id)
	}()

	return c.ch, c.id
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}

	delete(h.clients, clientID)
	for i, id := range h.order {
		if id == clientID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	close(c.ch)

	h.logger.Debug("client disconnected", "client_id", clientID)
}

// Broadcast sends an event to every connected view and records it in the
// replay backlog. Non-blocking: slow subscribers miss the event.
func (h *Hub) Broadcast(event *Event) {
	h.backlog.add(event)

	// Sends stay under the read lock so Unsubscribe cannot close a
	// channel mid-broadcast. The selects never block.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		select {
		case c.ch <- event:
		default:
			h.logger.Debug("dropped event for slow client", "event_id", event.ID, "type", event.Type)
		}
	}
}

// SendFirst delivers an event to the earliest-connected view. Returns the
// receiving client's ID, or false when no view is connected. Targeted sends
// are not recorded in the backlog.
func (h *Hub) SendFirst(event *Event) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.order) == 0 {
		return "", false
	}

	id := h.order[0]
	c := h.clients[id]
	select {
	case c.ch <- event:
	default:
		h.logger.Debug("dropped event for slow client", "event_id", event.ID, "client_id", id)
	}
	return id, true
}

// Send delivers an event to one client. Returns false when the client is
// not connected.
func (h *Hub) Send(clientID string, event *Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[clientID]
	if !ok {
		return false
	}

	select {
	case c.ch <- event:
	default:
		h.logger.Debug("dropped event for slow client", "event_id", event.ID, "client_id", clientID)
	}
	return true
}

// ClientCount returns the number of connected views.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientIDs returns connected client IDs in connect order.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, len(h.order))
	copy(ids, h.order)
	return ids
}

// ReplaySince returns the broadcast events recorded after the event with
// the given ID. An unknown or expired ID yields nothing: the client missed
// more than the backlog holds and starts fresh.
func (h *Hub) ReplaySince(lastEventID string) []*Event {
	return h.backlog.since(lastEventID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, c := range h.clients {
		close(c.ch)
		delete(h.clients, id)
	}
	h.order = nil
	h.mu.Unlock()

	h.backlog.close()
	h.logger.Debug("hub closed")
}
