// ABOUTME: HTTP client for the upstream origin serving the real application
// ABOUTME: Fetches shell assets for precaching and forwards intercepted requests

package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Xevo88/shuna-gateway/internal/cachestore"
)

// defaultRequestTimeout bounds upstream exchanges when none is configured.
const defaultRequestTimeout = 30 * time.Second

// hopHeaders are connection-level headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream talks to the origin server that hosts the actual application.
type Upstream struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewUpstream creates an upstream client for the given base URL. Pass nil
// logger for default.
func NewUpstream(baseURL string, timeout time.Duration, logger *slog.Logger) (*Upstream, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream base URL must be absolute: %s", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Upstream{
		base:   base,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "upstream"),
	}, nil
}

// Forward sends a request for requestURI (path plus optional query) to the
// upstream origin, copying over end-to-end headers. The caller owns the
// response body.
func (u *Upstream) Forward(ctx context.Context, method, requestURI string, header http.Header, body io.Reader) (*http.Response, error) {
	ref, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("parsing request URI %q: %w", requestURI, err)
	}
	target := u.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	copyHeader(req.Header, header)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// Probe checks whether the upstream origin is reachable. Any HTTP response
// counts as reachable, even an error status; only transport failures mean
// offline.
func (u *Upstream) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.base.String(), nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// FetchAsset retrieves one shell asset and packages it as a cache entry.
// Anything but a 200 is an error so installs stay all-or-nothing.
func (u *Upstream) FetchAsset(ctx context.Context, path string) (*cachestore.Entry, error) {
	resp, err := u.Forward(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("asset %s: unexpected status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading asset %s: %w", path, err)
	}

	return &cachestore.Entry{
		Method:    http.MethodGet,
		URL:       path,
		Status:    resp.StatusCode,
		Header:    cleanHeader(resp.Header),
		Body:      data,
		FetchedAt: time.Now(),
	}, nil
}

// copyHeader copies end-to-end headers from src to dst, skipping
// connection-level ones.
func copyHeader(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// cleanHeader returns a copy of h without connection-level headers.
func cleanHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	copyHeader(out, h)
	return out
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}
