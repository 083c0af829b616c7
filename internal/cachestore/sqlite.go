// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides cache entry, push subscription, and notification persistence with automatic schema creation

package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Pass nil logger for default.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cachestore")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS caches (
			name TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cache_entries (
			cache_name TEXT NOT NULL REFERENCES caches(name) ON DELETE CASCADE,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			status INTEGER NOT NULL,
			headers_json TEXT NOT NULL,
			body BLOB NOT NULL,
			fetched_at TEXT NOT NULL,

			PRIMARY KEY (cache_name, method, url)
		);

		CREATE INDEX IF NOT EXISTS idx_cache_entries_key
			ON cache_entries(method, url);

		CREATE TABLE IF NOT EXISTS gateway_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS push_subscriptions (
			endpoint TEXT PRIMARY KEY,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			body_html TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			closed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_created
			ON notifications(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// OpenCache creates the named cache if it does not already exist
func (s *SQLiteStore) OpenCache(ctx context.Context, name string) error {
	// INSERT OR IGNORE keeps the original row (and its creation order)
	// when the cache already exists
	query := `INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`

	_, err := s.db.ExecContext(ctx, query, name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	return nil
}

// Put upserts a response entry into the named cache, creating the cache if
// needed. The entry key is (method, URL); a second put replaces the first.
func (s *SQLiteStore) Put(ctx context.Context, cache string, entry *Entry) error {
	if err := s.OpenCache(ctx, cache); err != nil {
		return err
	}

	headers, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}

	query := `
		INSERT INTO cache_entries (cache_name, method, url, status, headers_json, body, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_name, method, url) DO UPDATE SET
			status = excluded.status,
			headers_json = excluded.headers_json,
			body = excluded.body,
			fetched_at = excluded.fetched_at
	`

	_, err = s.db.ExecContext(ctx, query,
		cache,
		entry.Method,
		entry.URL,
		entry.Status,
		string(headers),
		entry.Body,
		entry.FetchedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting cache entry: %w", err)
	}

	s.logger.Debug("cached response", "cache", cache, "method", entry.Method, "url", entry.URL, "status", entry.Status)
	return nil
}

// scanEntry reads one entry row. The caller supplies method and url since
// they are part of the lookup key, not the scanned columns.
func scanEntry(row *sql.Row, method, url string) (*Entry, error) {
	var entry Entry
	var headersJSON, fetchedAtStr string

	err := row.Scan(&entry.Status, &headersJSON, &entry.Body, &fetchedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cache entry: %w", err)
	}

	entry.Method = method
	entry.URL = url

	entry.Header = http.Header{}
	if err := json.Unmarshal([]byte(headersJSON), &entry.Header); err != nil {
		return nil, fmt.Errorf("decoding headers: %w", err)
	}

	entry.FetchedAt, err = time.Parse(time.RFC3339, fetchedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at: %w", err)
	}

	return &entry, nil
}

// Match looks up an entry in one named cache.
// Returns ErrNotFound on a miss.
func (s *SQLiteStore) Match(ctx context.Context, cache, method, url string) (*Entry, error) {
	query := `
		SELECT status, headers_json, body, fetched_at
		FROM cache_entries
		WHERE cache_name = ? AND method = ? AND url = ?
	`

	return scanEntry(s.db.QueryRowContext(ctx, query, cache, method, url), method, url)
}

// MatchAny looks up an entry across every cache. Caches are searched in
// creation order (rowid), so the oldest cache holding the key answers.
// Returns ErrNotFound when no cache holds the entry.
func (s *SQLiteStore) MatchAny(ctx context.Context, method, url string) (*Entry, error) {
	query := `
		SELECT e.status, e.headers_json, e.body, e.fetched_at
		FROM cache_entries e
		JOIN caches c ON c.name = e.cache_name
		WHERE e.method = ? AND e.url = ?
		ORDER BY c.rowid
		LIMIT 1
	`

	return scanEntry(s.db.QueryRowContext(ctx, query, method, url), method, url)
}

// AddAll writes a batch of entries into the named cache in one transaction.
// Any failure rolls the whole batch back, including the cache row itself if
// this call created it.
func (s *SQLiteStore) AddAll(ctx context.Context, cache string, entries []*Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		cache, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}

	query := `
		INSERT INTO cache_entries (cache_name, method, url, status, headers_json, body, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_name, method, url) DO UPDATE SET
			status = excluded.status,
			headers_json = excluded.headers_json,
			body = excluded.body,
			fetched_at = excluded.fetched_at
	`

	for _, entry := range entries {
		headers, err := json.Marshal(entry.Header)
		if err != nil {
			return fmt.Errorf("encoding headers for %s: %w", entry.URL, err)
		}

		_, err = tx.ExecContext(ctx, query,
			cache,
			entry.Method,
			entry.URL,
			entry.Status,
			string(headers),
			entry.Body,
			entry.FetchedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting entry for %s: %w", entry.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	s.logger.Debug("cached batch", "cache", cache, "entries", len(entries))
	return nil
}

// DeleteCache removes the named cache and all of its entries.
// Returns ErrNotFound if the cache does not exist.
func (s *SQLiteStore) DeleteCache(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting cache: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted cache", "cache", name)
	return nil
}

// CacheNames returns all cache names in creation order
func (s *SQLiteStore) CacheNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying cache names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning cache name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// ListCaches returns all caches with entry counts, in creation order
func (s *SQLiteStore) ListCaches(ctx context.Context) ([]*CacheInfo, error) {
	query := `
		SELECT c.name, c.created_at, COUNT(e.url)
		FROM caches c
		LEFT JOIN cache_entries e ON e.cache_name = c.name
		GROUP BY c.name
		ORDER BY c.rowid
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying caches: %w", err)
	}
	defer rows.Close()

	var caches []*CacheInfo
	for rows.Next() {
		var info CacheInfo
		var createdAtStr string
		if err := rows.Scan(&info.Name, &createdAtStr, &info.Entries); err != nil {
			return nil, fmt.Errorf("scanning cache info: %w", err)
		}
		info.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		caches = append(caches, &info)
	}

	return caches, rows.Err()
}

const activeGenerationKey = "active_generation"

// ActiveGeneration returns the currently active generation tag, or the empty
// string when no generation has been activated yet
func (s *SQLiteStore) ActiveGeneration(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM gateway_meta WHERE key = ?`, activeGenerationKey,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying active generation: %w", err)
	}
	return value, nil
}

// SetActiveGeneration records gen as the active generation
func (s *SQLiteStore) SetActiveGeneration(ctx context.Context, gen string) error {
	query := `
		INSERT INTO gateway_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`

	if _, err := s.db.ExecContext(ctx, query, activeGenerationKey, gen); err != nil {
		return fmt.Errorf("setting active generation: %w", err)
	}

	s.logger.Debug("set active generation", "generation", gen)
	return nil
}

// SavePushSubscription upserts a subscription keyed by endpoint
func (s *SQLiteStore) SavePushSubscription(ctx context.Context, sub *PushSubscription) error {
	query := `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth
	`

	_, err := s.db.ExecContext(ctx, query,
		sub.Endpoint,
		sub.P256dh,
		sub.Auth,
		sub.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}

	s.logger.Debug("saved push subscription", "endpoint", sub.Endpoint)
	return nil
}

// DeletePushSubscription removes the subscription with the given endpoint.
// Returns ErrNotFound if no such subscription exists.
func (s *SQLiteStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted push subscription", "endpoint", endpoint)
	return nil
}

// ListPushSubscriptions returns all subscriptions, oldest first
func (s *SQLiteStore) ListPushSubscriptions(ctx context.Context) ([]*PushSubscription, error) {
	query := `
		SELECT endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*PushSubscription
	for rows.Next() {
		var sub PushSubscription
		var createdAtStr string
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning push subscription: %w", err)
		}
		sub.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		subs = append(subs, &sub)
	}

	return subs, rows.Err()
}

// SaveNotification persists a notification record
func (s *SQLiteStore) SaveNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, title, body, body_html, tag, closed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		n.ID,
		n.Title,
		n.Body,
		n.BodyHTML,
		n.Tag,
		n.Closed,
		n.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("saved notification", "id", n.ID, "title", n.Title)
	return nil
}

// GetNotification retrieves a notification by ID.
// Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	query := `
		SELECT id, title, body, body_html, tag, closed, created_at
		FROM notifications
		WHERE id = ?
	`

	var n Notification
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID,
		&n.Title,
		&n.Body,
		&n.BodyHTML,
		&n.Tag,
		&n.Closed,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying notification: %w", err)
	}

	n.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &n, nil
}

// CloseNotification marks a notification closed.
// Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) CloseNotification(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET closed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("closing notification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// CloseNotificationsByTag marks every open notification carrying the tag as
// closed. Matching nothing is not an error.
func (s *SQLiteStore) CloseNotificationsByTag(ctx context.Context, tag string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET closed = 1 WHERE tag = ? AND closed = 0`, tag)
	if err != nil {
		return fmt.Errorf("closing notifications by tag: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		s.logger.Debug("replaced tagged notifications", "tag", tag, "count", rows)
	}

	return nil
}

// ListNotifications returns the most recent notifications, newest first
func (s *SQLiteStore) ListNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, title, body, body_html, tag, closed, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		var createdAtStr string
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.BodyHTML, &n.Tag, &n.Closed, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}
