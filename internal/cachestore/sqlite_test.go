// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers cache entry CRUD, batch atomicity, generation markers, subscriptions, and notifications

package cachestore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func testEntry(url string) *Entry {
	return &Entry{
		Method:    http.MethodGet,
		URL:       url,
		Status:    200,
		Header:    http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:      []byte("<html>ok</html>"),
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestPutAndMatch(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	entry := testEntry("/index.html")

	if err := store.Put(ctx, "shuna-ai-v1.0", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Match(ctx, "shuna-ai-v1.0", http.MethodGet, "/index.html")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	if got.Status != entry.Status {
		t.Errorf("Status mismatch: got %d, want %d", got.Status, entry.Status)
	}
	if got.Header.Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("Content-Type mismatch: got %q", got.Header.Get("Content-Type"))
	}
	if string(got.Body) != string(entry.Body) {
		t.Errorf("Body mismatch: got %q, want %q", got.Body, entry.Body)
	}
	if !got.FetchedAt.Equal(entry.FetchedAt) {
		t.Errorf("FetchedAt mismatch: got %v, want %v", got.FetchedAt, entry.FetchedAt)
	}
}

func TestMatch_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.Match(ctx, "shuna-ai-v1.0", http.MethodGet, "/missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_Overwrites(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	first := testEntry("/app.js")
	first.Body = []byte("v1")
	if err := store.Put(ctx, "shuna-ai-v1.0", first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := testEntry("/app.js")
	second.Body = []byte("v2")
	if err := store.Put(ctx, "shuna-ai-v1.0", second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := store.Match(ctx, "shuna-ai-v1.0", http.MethodGet, "/app.js")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if string(got.Body) != "v2" {
		t.Errorf("Body = %q, want %q (last write wins)", got.Body, "v2")
	}
}

func TestMatchAny_OldestCacheFirst(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	stale := testEntry("/index.html")
	stale.Body = []byte("old generation")
	if err := store.Put(ctx, "shuna-ai-v1.0", stale); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	fresh := testEntry("/index.html")
	fresh.Body = []byte("new generation")
	if err := store.Put(ctx, "shuna-ai-v2.0", fresh); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The oldest cache answers until it is deleted
	got, err := store.MatchAny(ctx, http.MethodGet, "/index.html")
	if err != nil {
		t.Fatalf("MatchAny failed: %v", err)
	}
	if string(got.Body) != "old generation" {
		t.Errorf("Body = %q, want entry from the oldest cache", got.Body)
	}

	if err := store.DeleteCache(ctx, "shuna-ai-v1.0"); err != nil {
		t.Fatalf("DeleteCache failed: %v", err)
	}

	got, err = store.MatchAny(ctx, http.MethodGet, "/index.html")
	if err != nil {
		t.Fatalf("MatchAny after delete failed: %v", err)
	}
	if string(got.Body) != "new generation" {
		t.Errorf("Body = %q, want entry from the remaining cache", got.Body)
	}
}

func TestMatchAny_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.MatchAny(ctx, http.MethodGet, "/missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddAll(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	entries := []*Entry{
		testEntry("/"),
		testEntry("/index.html"),
		testEntry("/offline.html"),
	}

	if err := store.AddAll(ctx, "shuna-ai-v1.0", entries); err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}

	caches, err := store.ListCaches(ctx)
	if err != nil {
		t.Fatalf("ListCaches failed: %v", err)
	}
	if len(caches) != 1 {
		t.Fatalf("len(caches) = %d, want 1", len(caches))
	}
	if caches[0].Name != "shuna-ai-v1.0" {
		t.Errorf("cache name = %q, want %q", caches[0].Name, "shuna-ai-v1.0")
	}
	if caches[0].Entries != 3 {
		t.Errorf("entry count = %d, want 3", caches[0].Entries)
	}
}

func TestAddAll_NoPartialStateOnFailure(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	entries := []*Entry{testEntry("/"), testEntry("/index.html")}
	if err := store.AddAll(canceled, "shuna-ai-v1.0", entries); err == nil {
		t.Fatal("AddAll with canceled context expected error, got nil")
	}

	// The failed batch must leave nothing behind, not even the cache row
	ctx := context.Background()
	names, err := store.CacheNames(ctx)
	if err != nil {
		t.Fatalf("CacheNames failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("caches after failed AddAll = %v, want none", names)
	}

	if _, err := store.MatchAny(ctx, http.MethodGet, "/"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after failed AddAll, got %v", err)
	}
}

func TestDeleteCache_RemovesEntries(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "shuna-ai-v1.0", testEntry("/index.html")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.DeleteCache(ctx, "shuna-ai-v1.0"); err != nil {
		t.Fatalf("DeleteCache failed: %v", err)
	}

	if _, err := store.MatchAny(ctx, http.MethodGet, "/index.html"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for entry of deleted cache, got %v", err)
	}
}

func TestDeleteCache_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.DeleteCache(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheNames_CreationOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, name := range []string{"gen-a", "gen-b", "gen-c"} {
		if err := store.OpenCache(ctx, name); err != nil {
			t.Fatalf("OpenCache(%q) failed: %v", name, err)
		}
	}

	// Reopening must not change the order
	if err := store.OpenCache(ctx, "gen-a"); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	names, err := store.CacheNames(ctx)
	if err != nil {
		t.Fatalf("CacheNames failed: %v", err)
	}

	want := []string{"gen-a", "gen-b", "gen-c"}
	if len(names) != len(want) {
		t.Fatalf("len(names) = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestActiveGeneration(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Unset means empty string, not an error
	gen, err := store.ActiveGeneration(ctx)
	if err != nil {
		t.Fatalf("ActiveGeneration failed: %v", err)
	}
	if gen != "" {
		t.Errorf("ActiveGeneration = %q, want empty", gen)
	}

	if err := store.SetActiveGeneration(ctx, "shuna-ai-v1.0"); err != nil {
		t.Fatalf("SetActiveGeneration failed: %v", err)
	}

	gen, err = store.ActiveGeneration(ctx)
	if err != nil {
		t.Fatalf("ActiveGeneration failed: %v", err)
	}
	if gen != "shuna-ai-v1.0" {
		t.Errorf("ActiveGeneration = %q, want %q", gen, "shuna-ai-v1.0")
	}

	// Overwrite on upgrade
	if err := store.SetActiveGeneration(ctx, "shuna-ai-v2.0"); err != nil {
		t.Fatalf("SetActiveGeneration failed: %v", err)
	}
	gen, _ = store.ActiveGeneration(ctx)
	if gen != "shuna-ai-v2.0" {
		t.Errorf("ActiveGeneration = %q, want %q", gen, "shuna-ai-v2.0")
	}
}

func TestPushSubscriptions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	sub := &PushSubscription{
		Endpoint:  "https://push.example.com/send/abc123",
		P256dh:    "key-p256dh",
		Auth:      "key-auth",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := store.SavePushSubscription(ctx, sub); err != nil {
		t.Fatalf("SavePushSubscription failed: %v", err)
	}

	// Re-saving the same endpoint updates keys instead of duplicating
	sub.P256dh = "key-p256dh-rotated"
	if err := store.SavePushSubscription(ctx, sub); err != nil {
		t.Fatalf("SavePushSubscription (upsert) failed: %v", err)
	}

	subs, err := store.ListPushSubscriptions(ctx)
	if err != nil {
		t.Fatalf("ListPushSubscriptions failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("len(subs) = %d, want 1", len(subs))
	}
	if subs[0].P256dh != "key-p256dh-rotated" {
		t.Errorf("P256dh = %q, want rotated key", subs[0].P256dh)
	}

	if err := store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
		t.Fatalf("DeletePushSubscription failed: %v", err)
	}

	if err := store.DeletePushSubscription(ctx, sub.Endpoint); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestNotifications(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	n := &Notification{
		ID:        "notif-1",
		Title:     "Shuna AI Companion",
		Body:      "You have a new message",
		BodyHTML:  "<p>You have a new message</p>",
		Tag:       "message",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	if err := store.SaveNotification(ctx, n); err != nil {
		t.Fatalf("SaveNotification failed: %v", err)
	}

	got, err := store.GetNotification(ctx, "notif-1")
	if err != nil {
		t.Fatalf("GetNotification failed: %v", err)
	}
	if got.Title != n.Title {
		t.Errorf("Title = %q, want %q", got.Title, n.Title)
	}
	if got.Closed {
		t.Error("new notification should not be closed")
	}

	if err := store.CloseNotification(ctx, "notif-1"); err != nil {
		t.Fatalf("CloseNotification failed: %v", err)
	}

	got, err = store.GetNotification(ctx, "notif-1")
	if err != nil {
		t.Fatalf("GetNotification failed: %v", err)
	}
	if !got.Closed {
		t.Error("notification should be closed")
	}

	if err := store.CloseNotification(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseNotificationsByTag(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	for _, n := range []*Notification{
		{ID: "chat-1", Title: "t", Body: "b", Tag: "chat", CreatedAt: now},
		{ID: "chat-2", Title: "t", Body: "b", Tag: "chat", CreatedAt: now},
		{ID: "sync-1", Title: "t", Body: "b", Tag: "sync", CreatedAt: now},
	} {
		if err := store.SaveNotification(ctx, n); err != nil {
			t.Fatalf("SaveNotification(%s) failed: %v", n.ID, err)
		}
	}

	if err := store.CloseNotificationsByTag(ctx, "chat"); err != nil {
		t.Fatalf("CloseNotificationsByTag failed: %v", err)
	}

	for id, wantClosed := range map[string]bool{"chat-1": true, "chat-2": true, "sync-1": false} {
		got, err := store.GetNotification(ctx, id)
		if err != nil {
			t.Fatalf("GetNotification(%s) failed: %v", id, err)
		}
		if got.Closed != wantClosed {
			t.Errorf("%s Closed = %v, want %v", id, got.Closed, wantClosed)
		}
	}

	if err := store.CloseNotificationsByTag(ctx, "no-such-tag"); err != nil {
		t.Errorf("closing an unused tag should not error, got %v", err)
	}
}

func TestListNotifications_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	for i := 0; i < 5; i++ {
		n := &Notification{
			ID:        fmt.Sprintf("notif-%d", i),
			Title:     "Shuna AI Companion",
			Body:      fmt.Sprintf("message %d", i),
			BodyHTML:  "",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveNotification(ctx, n); err != nil {
			t.Fatalf("SaveNotification failed: %v", err)
		}
	}

	notifications, err := store.ListNotifications(ctx, 3)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}

	if len(notifications) != 3 {
		t.Fatalf("len = %d, want 3", len(notifications))
	}
	if notifications[0].ID != "notif-4" {
		t.Errorf("first ID = %q, want newest (notif-4)", notifications[0].ID)
	}
	if notifications[2].ID != "notif-2" {
		t.Errorf("last ID = %q, want notif-2", notifications[2].ID)
	}
}
