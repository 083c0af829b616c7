// ABOUTME: HTTP API handlers for the client event stream and control messages
// ABOUTME: Covers SSE events, the message protocol, push, sync, and cache admin

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Xevo88/shuna-gateway/internal/cachestore"
	"github.com/Xevo88/shuna-gateway/internal/hub"
	"github.com/Xevo88/shuna-gateway/internal/shell"
	"github.com/Xevo88/shuna-gateway/internal/syncer"
)

// heartbeatInterval is how often idle SSE streams get a comment line so
// proxies keep the connection open.
const heartbeatInterval = 30 * time.Second

// maxPushPayload bounds POST /api/push bodies. Push services cap payloads
// around 4KB; this leaves generous headroom.
const maxPushPayload = 64 * 1024

// Control message types accepted by POST /api/message.
const (
	MessageSkipWaiting       = "SKIP_WAITING"
	MessageGetVersion        = "GET_VERSION"
	MessageCacheConversation = "CACHE_CONVERSATION"
)

// MessageRequest is the JSON request body for POST /api/message.
type MessageRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// VersionResponse is the JSON response for GET /api/version.
type VersionResponse struct {
	Version  string `json:"version"`
	State    string `json:"state"`
	Active   string `json:"active"`
	Online   bool   `json:"online"`
	ServerID string `json:"server_id"`
}

// NotificationResponse is the JSON shape of one notification.
type NotificationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	BodyHTML  string `json:"body_html"`
	Tag       string `json:"tag,omitempty"`
	Closed    bool   `json:"closed"`
	CreatedAt string `json:"created_at"`
}

// ClickRequest is the JSON request body for notification clicks.
type ClickRequest struct {
	Action string `json:"action"`
}

// SyncRequest is the JSON request body for POST /api/sync.
type SyncRequest struct {
	Tag string `json:"tag"`
}

// SubscribeRequest is the JSON request body for POST /api/subscriptions,
// matching the browser PushSubscription.toJSON() shape.
type SubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionResponse lists a subscription without its client keys.
type SubscriptionResponse struct {
	Endpoint  string `json:"endpoint"`
	CreatedAt string `json:"created_at"`
}

// CacheResponse is the JSON shape of one named cache.
type CacheResponse struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	CreatedAt string `json:"created_at"`
}

// handleVersion handles GET /api/version requests.
func (g *Gateway) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	active, err := g.store.ActiveGeneration(r.Context())
	if err != nil {
		g.logger.Error("failed to read active generation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionResponse{
		Version:  g.manifest.Generation,
		State:    string(g.runner.State()),
		Active:   active,
		Online:   g.syncer.Online(),
		ServerID: g.serverID,
	})
}

// handleEvents handles GET /api/events: the SSE stream clients hold open
// to receive controllerchange, notification, sync, and focus events.
// A Last-Event-ID header replays what the client missed while reconnecting.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, clientID := g.hub.Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if connected, err := hub.NewEvent("connected", map[string]string{"client_id": clientID}); err == nil {
		g.writeSSEEvent(w, connected)
	}

	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		for _, event := range g.hub.ReplaySince(lastID) {
			g.writeSSEEvent(w, event)
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, open := <-ch:
			if !open {
				return
			}
			g.writeSSEEvent(w, event)
			flusher.Flush()
		}
	}
}

// handleMessage handles POST /api/message: the control protocol the shell
// pages use to talk to the gateway.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		g.sendJSONError(w, http.StatusBadRequest, "type is required")
		return
	}

	switch req.Type {
	case MessageSkipWaiting:
		g.runner.SkipWaiting()
		g.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})

	case MessageGetVersion:
		g.respondJSON(w, http.StatusOK, map[string]string{"version": g.manifest.Generation})

	case MessageCacheConversation:
		g.cacheConversation(w, req.Data)

	default:
		// Unknown types are acknowledged, not rejected, so newer shells
		// keep working against older gateways.
		g.logger.Warn("unhandled message type", "type", req.Type)
		g.respondJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
	}
}

// cacheConversation persists the conversation snapshot into the data cache
// without blocking the caller. The data value becomes the response body
// served for GET /conversations.
func (g *Gateway) cacheConversation(w http.ResponseWriter, data json.RawMessage) {
	if len(data) == 0 || !json.Valid(data) {
		g.sendJSONError(w, http.StatusBadRequest, "data must be a JSON conversation snapshot")
		return
	}

	entry := &cachestore.Entry{
		Method:    http.MethodGet,
		URL:       shell.ConversationPath,
		Status:    http.StatusOK,
		Header:    http.Header{"Content-Type": []string{"application/json"}},
		Body:      data,
		FetchedAt: time.Now(),
	}
	cacheName := g.manifest.DataCache()

	g.dispatcher.Go("conversation-persist", func(ctx context.Context) error {
		return g.store.Put(ctx, cacheName, entry)
	})

	g.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handlePush handles POST /api/push: an incoming push payload to record,
// display, and relay.
func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushPayload))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading payload failed")
		return
	}

	// Push services may deliver data-free pushes; Ingest substitutes
	// default text for those.
	n, err := g.push.Ingest(r.Context(), payload)
	if err != nil {
		g.logger.Error("push ingest failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.respondJSON(w, http.StatusCreated, notificationResponse(n))
}

// handleListNotifications handles GET /api/notifications requests.
func (g *Gateway) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	notifications, err := g.push.Notifications(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list notifications", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		response = append(response, notificationResponse(n))
	}

	g.respondJSON(w, http.StatusOK, map[string][]NotificationResponse{"notifications": response})
}

// handleNotificationClick handles POST /api/notifications/{id}/click.
func (g *Gateway) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "click" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	var req ClickRequest
	if r.Body != nil {
		// An empty body means the default action.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, err := g.push.Click(r.Context(), id, req.Action)
	if err != nil {
		if errors.Is(err, cachestore.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "notification not found")
			return
		}
		g.logger.Error("notification click failed", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.respondJSON(w, http.StatusOK, result)
}

// handleSync handles the background sync surface: POST registers a tag,
// GET reports pending tags and connectivity.
func (g *Gateway) handleSync(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tag := req.Tag
		if tag == "" {
			tag = syncer.DefaultTag
		}
		g.syncer.Register(tag)
		g.respondJSON(w, http.StatusAccepted, map[string]string{"status": "registered", "tag": tag})

	case http.MethodGet:
		g.respondJSON(w, http.StatusOK, map[string]any{
			"pending": g.syncer.Registered(),
			"online":  g.syncer.Online(),
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSubscriptions handles webpush subscription registration, removal,
// and listing.
func (g *Gateway) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req SubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		sub := &cachestore.PushSubscription{
			Endpoint: req.Endpoint,
			P256dh:   req.Keys.P256dh,
			Auth:     req.Keys.Auth,
		}
		if err := g.push.Subscribe(r.Context(), sub); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.respondJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})

	case http.MethodDelete:
		var req SubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
			g.sendJSONError(w, http.StatusBadRequest, "endpoint is required")
			return
		}
		if err := g.push.Unsubscribe(r.Context(), req.Endpoint); err != nil {
			if errors.Is(err, cachestore.ErrNotFound) {
				g.sendJSONError(w, http.StatusNotFound, "subscription not found")
				return
			}
			g.logger.Error("unsubscribe failed", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		subs, err := g.push.Subscriptions(r.Context())
		if err != nil {
			g.logger.Error("failed to list subscriptions", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		response := make([]SubscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			response = append(response, SubscriptionResponse{
				Endpoint:  sub.Endpoint,
				CreatedAt: sub.CreatedAt.Format(time.RFC3339),
			})
		}
		g.respondJSON(w, http.StatusOK, map[string][]SubscriptionResponse{"subscriptions": response})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListCaches handles GET /api/caches requests.
func (g *Gateway) handleListCaches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	caches, err := g.store.ListCaches(r.Context())
	if err != nil {
		g.logger.Error("failed to list caches", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]CacheResponse, 0, len(caches))
	for _, c := range caches {
		response = append(response, CacheResponse{
			Name:      c.Name,
			Entries:   c.Entries,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
	}

	g.respondJSON(w, http.StatusOK, map[string][]CacheResponse{"caches": response})
}

// handleDeleteCache handles DELETE /api/caches/{name} requests.
func (g *Gateway) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/caches/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	if err := g.store.DeleteCache(r.Context(), name); err != nil {
		if errors.Is(err, cachestore.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "cache not found")
			return
		}
		g.logger.Error("failed to delete cache", "cache", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("cache deleted by operator", "cache", name)
	w.WriteHeader(http.StatusNoContent)
}

// writeSSEEvent writes one event in SSE framing with its replay ID.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event *hub.Event) {
	fmt.Fprintf(w, "id: %s\n", event.ID)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", event.Data)
}

// respondJSON writes a JSON response with the given status.
func (g *Gateway) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func notificationResponse(n *cachestore.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		BodyHTML:  n.BodyHTML,
		Tag:       n.Tag,
		Closed:    n.Closed,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}
