// ABOUTME: Cache-first request interceptor fronting the upstream origin
// ABOUTME: Serves from the generation caches, falls back to network then offline page

package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Xevo88/shuna-gateway/internal/cachestore"
	"github.com/Xevo88/shuna-gateway/internal/dedupe"
	"github.com/Xevo88/shuna-gateway/internal/shell"
)

// CacheHeader reports how a response was produced. It is only set when a
// response came out of a cache.
const CacheHeader = "X-Shuna-Cache"

// CacheHeader values.
const (
	CacheHit             = "hit"
	CacheOfflineFallback = "offline-fallback"
)

// A page load fans out into many asset misses for the same URLs, and each
// miss would spawn its own write-back. One write per URL per window is
// plenty.
const (
	writeBackWindow  = 30 * time.Second
	writeBackMaxKeys = 4096
)

// Store is the subset of cachestore.Store the interceptor needs.
type Store interface {
	MatchAny(ctx context.Context, method, url string) (*cachestore.Entry, error)
	Put(ctx context.Context, cacheName string, entry *cachestore.Entry) error
}

// Spawner runs best-effort background work, such as cache write-back.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Interceptor is the HTTP handler in front of the upstream origin. GET
// requests are answered cache-first; everything else passes straight
// through. When the upstream is unreachable, navigations get the cached
// offline page.
type Interceptor struct {
	upstream *Upstream
	store    Store
	manifest *shell.Manifest
	origin   string
	spawner  Spawner
	recent   *dedupe.Cache
	logger   *slog.Logger
}

// NewInterceptor creates the interceptor. origin is the public host[:port]
// the caches are scoped to; empty means every host is in scope. Pass nil
// logger for default. Call Close when done.
func NewInterceptor(upstream *Upstream, store Store, manifest *shell.Manifest, origin string, spawner Spawner, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		upstream: upstream,
		store:    store,
		manifest: manifest,
		origin:   origin,
		spawner:  spawner,
		recent:   dedupe.New(writeBackWindow, writeBackMaxKeys),
		logger:   logger.With("component", "fetch"),
	}
}

// Close releases the write-back tracker.
func (i *Interceptor) Close() {
	i.recent.Close()
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only GETs are cacheable. Everything else is a plain passthrough to
	// the upstream.
	if r.Method != http.MethodGet {
		i.passthrough(w, r)
		return
	}

	// Requests addressed to some other host are out of scope for the caches.
	if i.origin != "" && r.Host != "" && r.Host != i.origin {
		i.passthrough(w, r)
		return
	}

	key := requestKey(r)

	entry, err := i.store.MatchAny(r.Context(), http.MethodGet, key)
	if err == nil {
		i.serveEntry(w, entry, CacheHit)
		return
	}
	if !errors.Is(err, cachestore.ErrNotFound) {
		// A broken cache should not take down serving; go to the network.
		i.logger.Error("cache lookup failed", "url", key, "error", err)
	}

	resp, err := i.upstream.Forward(r.Context(), http.MethodGet, key, r.Header, nil)
	if err != nil {
		i.logger.Warn("upstream unreachable", "url", key, "error", err)
		i.serveOffline(w, r)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		i.logger.Warn("upstream response truncated", "url", key, "error", err)
		i.serveOffline(w, r)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		i.logger.Debug("client write failed", "url", key, "error", err)
	}

	// Successful responses refresh the generation cache in the background
	// so the next offline visit has them.
	if resp.StatusCode == http.StatusOK {
		i.writeBack(key, resp.StatusCode, cleanHeader(resp.Header), body)
	}
}

// requestKey normalizes a request to the path-plus-query form used as the
// cache key and forwarded to the upstream. Absolute request URIs are
// reduced to their path so the upstream origin stays the only target.
func requestKey(r *http.Request) string {
	key := r.URL.Path
	if key == "" {
		key = "/"
	}
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}

// passthrough relays a request to the upstream without touching the caches.
func (i *Interceptor) passthrough(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)
	resp, err := i.upstream.Forward(r.Context(), r.Method, key, r.Header, r.Body)
	if err != nil {
		i.logger.Warn("upstream unreachable", "method", r.Method, "url", key, "error", err)
		i.sendJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		i.logger.Debug("client write failed", "url", key, "error", err)
	}
}

// serveOffline answers a failed navigation with the cached offline page.
// Non-HTML requests get a plain 502 so API callers see the failure.
func (i *Interceptor) serveOffline(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		entry, err := i.store.MatchAny(r.Context(), http.MethodGet, i.manifest.OfflinePath)
		if err == nil {
			i.serveEntry(w, entry, CacheOfflineFallback)
			return
		}
		i.logger.Error("offline page not cached", "path", i.manifest.OfflinePath, "error", err)
	}
	i.sendJSONError(w, http.StatusBadGateway, "upstream unreachable")
}

// serveEntry replays a cached response verbatim, tagged with how it was found.
func (i *Interceptor) serveEntry(w http.ResponseWriter, entry *cachestore.Entry, cacheState string) {
	copyHeader(w.Header(), entry.Header)
	w.Header().Set(CacheHeader, cacheState)
	w.WriteHeader(entry.Status)
	if _, err := w.Write(entry.Body); err != nil {
		i.logger.Debug("client write failed", "url", entry.URL, "error", err)
	}
}

// writeBack stores a fresh upstream response in the current generation cache
// without blocking the response path. Repeat misses for a URL within the
// write-back window reuse the write already in flight.
func (i *Interceptor) writeBack(key string, status int, header http.Header, body []byte) {
	if i.recent.CheckAndMark(key) {
		return
	}

	entry := &cachestore.Entry{
		Method:    http.MethodGet,
		URL:       key,
		Status:    status,
		Header:    header,
		Body:      body,
		FetchedAt: time.Now(),
	}
	cacheName := i.manifest.Generation
	i.spawner.Go("cache-writeback", func(ctx context.Context) error {
		return i.store.Put(ctx, cacheName, entry)
	})
}

// sendJSONError writes a JSON error response.
func (i *Interceptor) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
