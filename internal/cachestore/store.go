// ABOUTME: Store interface and data types for shuna-gateway persistence
// ABOUTME: Defines cached response entries, push subscriptions, notifications, and the Store interface

package cachestore

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Entry is one cached HTTP response, keyed by method and URL within a named
// cache. The stored response is replayed verbatim: status, headers, and body
// exactly as fetched, with no freshness tracking.
type Entry struct {
	Method    string
	URL       string
	Status    int
	Header    http.Header
	Body      []byte
	FetchedAt time.Time
}

// CacheInfo describes a named cache and its entry count
type CacheInfo struct {
	Name      string
	Entries   int
	CreatedAt time.Time
}

// PushSubscription is a Web Push subscription registered by a client,
// identified by its push service endpoint URL
type PushSubscription struct {
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// Notification is a displayed push notification. Body is the raw text as
// received; BodyHTML is its rendered form for clients that show rich bodies.
type Notification struct {
	ID        string
	Title     string
	Body      string
	BodyHTML  string
	Tag       string
	Closed    bool
	CreatedAt time.Time
}

// Store defines the persistence operations for the gateway.
// All methods accept a context for cancellation.
type Store interface {
	// OpenCache creates the named cache if it does not already exist
	OpenCache(ctx context.Context, name string) error

	// Put upserts a response entry into the named cache, creating the cache
	// if needed. The entry key is (method, URL); a second put for the same
	// key replaces the first.
	Put(ctx context.Context, cache string, entry *Entry) error

	// Match looks up an entry in one named cache.
	// Returns ErrNotFound on a miss.
	Match(ctx context.Context, cache, method, url string) (*Entry, error)

	// MatchAny looks up an entry across every cache, oldest cache first
	// (creation order). An entry from a stale generation can therefore
	// answer until that generation's cache is deleted.
	// Returns ErrNotFound when no cache holds the entry.
	MatchAny(ctx context.Context, method, url string) (*Entry, error)

	// AddAll writes a batch of entries into the named cache in a single
	// transaction. Either every entry lands or none do; a failed AddAll
	// against a fresh cache leaves no trace of the cache at all.
	AddAll(ctx context.Context, cache string, entries []*Entry) error

	// DeleteCache removes the named cache and all of its entries.
	// Returns ErrNotFound if the cache does not exist.
	DeleteCache(ctx context.Context, name string) error

	// CacheNames returns all cache names in creation order
	CacheNames(ctx context.Context) ([]string, error)

	// ListCaches returns all caches with entry counts, in creation order
	ListCaches(ctx context.Context) ([]*CacheInfo, error)

	// ActiveGeneration returns the currently active generation tag, or the
	// empty string when no generation has been activated yet
	ActiveGeneration(ctx context.Context) (string, error)

	// SetActiveGeneration records gen as the active generation
	SetActiveGeneration(ctx context.Context, gen string) error

	// SavePushSubscription upserts a subscription keyed by endpoint
	SavePushSubscription(ctx context.Context, sub *PushSubscription) error

	// DeletePushSubscription removes the subscription with the given
	// endpoint. Returns ErrNotFound if no such subscription exists.
	DeletePushSubscription(ctx context.Context, endpoint string) error

	// ListPushSubscriptions returns all subscriptions, oldest first
	ListPushSubscriptions(ctx context.Context) ([]*PushSubscription, error)

	// SaveNotification persists a notification record
	SaveNotification(ctx context.Context, n *Notification) error

	// GetNotification retrieves a notification by ID.
	// Returns ErrNotFound if it does not exist.
	GetNotification(ctx context.Context, id string) (*Notification, error)

	// CloseNotification marks a notification closed.
	// Returns ErrNotFound if it does not exist.
	CloseNotification(ctx context.Context, id string) error

	// CloseNotificationsByTag marks every open notification carrying the
	// tag as closed. Matching nothing is not an error.
	CloseNotificationsByTag(ctx context.Context, tag string) error

	// ListNotifications returns the most recent notifications, newest first
	ListNotifications(ctx context.Context, limit int) ([]*Notification, error)

	// Close releases the underlying database
	Close() error
}
