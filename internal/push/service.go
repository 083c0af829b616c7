// ABOUTME: Push notification service: ingest, display routing, and click handling
// ABOUTME: Notifications are recorded first, then broadcast to clients and relayed out

package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/Xevo88/shuna-gateway/internal/cachestore"
	"github.com/Xevo88/shuna-gateway/internal/hub"
)

// DefaultTitle is used when an incoming push carries no title of its own.
const DefaultTitle = "Shuna AI Companion"

// DefaultBody is shown for data-free pushes, which push services are
// allowed to deliver.
const DefaultBody = "You have a new message"

// Notification actions offered to clients.
const (
	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// NotificationStore defines what the service needs from storage.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *cachestore.Notification) error
	GetNotification(ctx context.Context, id string) (*cachestore.Notification, error)
	CloseNotification(ctx context.Context, id string) error
	CloseNotificationsByTag(ctx context.Context, tag string) error
	ListNotifications(ctx context.Context, limit int) ([]*cachestore.Notification, error)

	SavePushSubscription(ctx context.Context, sub *cachestore.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	ListPushSubscriptions(ctx context.Context) ([]*cachestore.PushSubscription, error)
}

// Broadcaster defines what the service needs from the client hub.
type Broadcaster interface {
	Broadcast(event *hub.Event)
	SendFirst(event *hub.Event) (string, bool)
}

// Spawner runs best-effort background work, such as the webpush relay.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Service ingests push payloads, routes them to connected clients, and
// relays them to registered webpush subscriptions.
type Service struct {
	store   NotificationStore
	hub     Broadcaster
	pusher  Pusher
	spawner Spawner
	logger  *slog.Logger
}

// New creates a push service. A nil pusher disables the webpush relay;
// pass nil logger for default.
func New(store NotificationStore, broadcaster Broadcaster, pusher Pusher, spawner Spawner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		hub:     broadcaster,
		pusher:  pusher,
		spawner: spawner,
		logger:  logger.With("component", "push"),
	}
}

// incomingPush is the JSON form of a push payload. Plain text bodies are
// also accepted and become the body verbatim.
type incomingPush struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// displayData is what connected clients receive for rendering.
type displayData struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	BodyHTML string   `json:"body_html"`
	Tag      string   `json:"tag,omitempty"`
	Actions  []string `json:"actions"`
}

// Ingest records an incoming push payload as a notification, shows it to
// connected clients, and relays it to webpush subscriptions in the
// background. The notification is recorded before anything is sent so a
// delivery failure never loses it.
func (s *Service) Ingest(ctx context.Context, payload []byte) (*cachestore.Notification, error) {
	var in incomingPush
	if err := json.Unmarshal(payload, &in); err != nil || in.Body == "" {
		in = incomingPush{Body: string(payload)}
	}
	if in.Body == "" {
		in.Body = DefaultBody
	}
	if in.Title == "" {
		in.Title = DefaultTitle
	}

	n := &cachestore.Notification{
		ID:        uuid.New().String(),
		Title:     in.Title,
		Body:      in.Body,
		BodyHTML:  renderBody(in.Body, s.logger),
		Tag:       in.Tag,
		CreatedAt: time.Now(),
	}

	// A tag names a slot: a new notification with the same tag replaces
	// whatever was showing there.
	if n.Tag != "" {
		if err := s.store.CloseNotificationsByTag(ctx, n.Tag); err != nil {
			s.logger.Warn("failed to close prior tagged notifications", "tag", n.Tag, "error", err)
		}
	}

	if err := s.store.SaveNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("recording notification: %w", err)
	}

	s.logger.Debug("notification recorded", "id", n.ID, "title", n.Title, "tag", n.Tag)

	event, err := hub.NewEvent(hub.EventNotification, displayData{
		ID:       n.ID,
		Title:    n.Title,
		Body:     n.Body,
		BodyHTML: n.BodyHTML,
		Tag:      n.Tag,
		Actions:  []string{ActionOpen, ActionDismiss},
	})
	if err != nil {
		return nil, fmt.Errorf("building notification event: %w", err)
	}
	s.hub.Broadcast(event)

	if s.pusher != nil {
		s.spawner.Go("push-relay", func(ctx context.Context) error {
			return s.relay(ctx, n)
		})
	}

	return n, nil
}

// renderBody converts a markdown body to HTML. On failure the body is
// escaped and wrapped so clients always get something renderable.
func renderBody(body string, logger *slog.Logger) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		logger.Error("failed to convert markdown", "error", err)
		return "<p>" + html.EscapeString(body) + "</p>"
	}
	return buf.String()
}

// relay sends the notification to every registered webpush subscription.
// Subscriptions the push service reports gone (404 or 410) are pruned.
func (s *Service) relay(ctx context.Context, n *cachestore.Notification) error {
	subs, err := s.store.ListPushSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"id":    n.ID,
		"title": n.Title,
		"body":  n.Body,
		"tag":   n.Tag,
	})
	if err != nil {
		return fmt.Errorf("encoding relay payload: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		status, err := s.pusher.Push(ctx, payload, sub)
		if err != nil {
			s.logger.Warn("webpush delivery failed", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		if status == 404 || status == 410 {
			s.logger.Info("pruning gone subscription", "endpoint", sub.Endpoint, "status", status)
			if err := s.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil && !errors.Is(err, cachestore.ErrNotFound) {
				s.logger.Error("failed to prune subscription", "endpoint", sub.Endpoint, "error", err)
			}
			continue
		}
		sent++
	}

	s.logger.Info("push relayed", "notification_id", n.ID, "subscriptions", len(subs), "delivered", sent)
	return nil
}

// ClickResult tells the caller how a notification click was resolved.
type ClickResult struct {
	Result   string `json:"result"`
	URL      string `json:"url,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Click resolves a notification click. Every click closes the notification.
// An open click focuses the first connected client, or tells the caller to
// open a new window when nobody is connected; dismiss and any action the
// notification does not offer do nothing beyond the close.
func (s *Service) Click(ctx context.Context, id, action string) (*ClickResult, error) {
	if action == "" {
		action = ActionOpen
	}

	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.store.CloseNotification(ctx, n.ID); err != nil && !errors.Is(err, cachestore.ErrNotFound) {
		s.logger.Error("failed to close notification", "id", n.ID, "error", err)
	}

	if action != ActionOpen {
		return &ClickResult{Result: "dismissed"}, nil
	}

	event, err := hub.NewEvent(hub.EventFocus, map[string]string{
		"url":             "/",
		"notification_id": n.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("building focus event: %w", err)
	}

	if clientID, ok := s.hub.SendFirst(event); ok {
		s.logger.Debug("focused existing client", "notification_id", n.ID, "client_id", clientID)
		return &ClickResult{Result: "focused", ClientID: clientID}, nil
	}

	return &ClickResult{Result: "open_window", URL: "/"}, nil
}

// Subscribe registers or refreshes a webpush subscription.
func (s *Service) Subscribe(ctx context.Context, sub *cachestore.PushSubscription) error {
	if sub.Endpoint == "" {
		return errors.New("subscription endpoint is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if err := s.store.SavePushSubscription(ctx, sub); err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	s.logger.Info("push subscription registered", "endpoint", sub.Endpoint)
	return nil
}

// Unsubscribe removes a webpush subscription.
func (s *Service) Unsubscribe(ctx context.Context, endpoint string) error {
	return s.store.DeletePushSubscription(ctx, endpoint)
}

// Subscriptions lists the registered webpush subscriptions.
func (s *Service) Subscriptions(ctx context.Context) ([]*cachestore.PushSubscription, error) {
	return s.store.ListPushSubscriptions(ctx)
}

// Notifications lists recent notifications, newest first.
func (s *Service) Notifications(ctx context.Context, limit int) ([]*cachestore.Notification, error) {
	return s.store.ListNotifications(ctx, limit)
}
