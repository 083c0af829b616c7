// ABOUTME: Gateway orchestrator that coordinates the HTTP server and background workers
// ABOUTME: Wires the store, lifecycle runner, interceptor, push service, and syncer

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/Xevo88/shuna-gateway/internal/auth"
	"github.com/Xevo88/shuna-gateway/internal/cachestore"
	"github.com/Xevo88/shuna-gateway/internal/config"
	"github.com/Xevo88/shuna-gateway/internal/fetch"
	"github.com/Xevo88/shuna-gateway/internal/hub"
	"github.com/Xevo88/shuna-gateway/internal/lifecycle"
	"github.com/Xevo88/shuna-gateway/internal/push"
	"github.com/Xevo88/shuna-gateway/internal/shell"
	"github.com/Xevo88/shuna-gateway/internal/syncer"
)

// Gateway orchestrates the shuna-gateway server components. It owns the
// HTTP server that fronts the upstream origin plus the background workers
// that keep the shell installed, synced, and notified.
type Gateway struct {
	config      *config.Config
	store       cachestore.Store
	manifest    *shell.Manifest
	hub         *hub.Hub
	dispatcher  *lifecycle.Dispatcher
	runner      *lifecycle.Runner
	upstream    *fetch.Upstream
	interceptor *fetch.Interceptor
	push        *push.Service
	syncer      *syncer.Syncer
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config, logger *slog.Logger) (cachestore.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SHUNA_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := cachestore.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	manifest, err := shell.Load(cfg.Shell.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading shell manifest: %w", err)
	}

	eventHub := hub.New(logger)
	dispatcher := lifecycle.NewDispatcher(logger)

	upstream, err := fetch.NewUpstream(cfg.Upstream.BaseURL, cfg.Upstream.RequestTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("creating upstream client: %w", err)
	}

	runner := lifecycle.NewRunner(manifest, s, upstream, eventHub, dispatcher, lifecycle.Options{
		WaitForClients: cfg.Lifecycle.WaitForClients,
		RetryInterval:  cfg.Lifecycle.RetryInterval,
	}, logger)

	interceptor := fetch.NewInterceptor(upstream, s, manifest, cfg.Server.PublicOrigin, dispatcher, logger)

	pusher := push.NewWebPusher(push.VAPIDConfig{
		Subscriber: cfg.Push.Subscriber,
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		TTL:        cfg.Push.TTL,
	}, logger)
	if pusher == nil {
		logger.Warn("webpush relay disabled - no VAPID keys configured (generate with: shuna-gateway vapid)")
	}
	pushService := push.New(s, eventHub, pusher, dispatcher, logger)

	syncService := syncer.New(upstream, eventHub, cfg.Sync.ProbeInterval, logger)

	gw := &Gateway{
		config:      cfg,
		store:       s,
		manifest:    manifest,
		hub:         eventHub,
		dispatcher:  dispatcher,
		runner:      runner,
		upstream:    upstream,
		interceptor: interceptor,
		push:        pushService,
		syncer:      syncService,
		logger:      logger.With("component", "gateway"),
		serverID:    generateServerID(),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.registerAPIRoutes(mux, cfg, logger)

	// Everything else goes through the cache-first interceptor.
	mux.Handle("/", interceptor)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.recoverMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes registers API routes on the mux. Operator endpoints
// get JWT auth when a secret is configured; the client-facing surface
// stays open because the shell pages are the callers.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	// Client surface
	mux.HandleFunc("/api/version", g.handleVersion)
	mux.HandleFunc("/api/events", g.handleEvents)
	mux.HandleFunc("/api/message", g.handleMessage)
	mux.HandleFunc("/api/notifications", g.handleListNotifications)
	mux.HandleFunc("/api/notifications/", g.handleNotificationClick)
	mux.HandleFunc("/api/sync", g.handleSync)

	// Operator surface
	if cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		authMiddleware := auth.HTTPAuthMiddleware(verifier)
		mux.Handle("/api/push", authMiddleware(http.HandlerFunc(g.handlePush)))
		mux.Handle("/api/caches", authMiddleware(http.HandlerFunc(g.handleListCaches)))
		mux.Handle("/api/caches/", authMiddleware(http.HandlerFunc(g.handleDeleteCache)))
		mux.Handle("/api/subscriptions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers register and drop their own subscriptions; only
			// listing them is an operator concern.
			if r.Method == http.MethodGet {
				authMiddleware(http.HandlerFunc(g.handleSubscriptions)).ServeHTTP(w, r)
			} else {
				g.handleSubscriptions(w, r)
			}
		}))
		logger.Info("HTTP auth middleware enabled")
	} else {
		mux.HandleFunc("/api/push", g.handlePush)
		mux.HandleFunc("/api/caches", g.handleListCaches)
		mux.HandleFunc("/api/caches/", g.handleDeleteCache)
		mux.HandleFunc("/api/subscriptions", g.handleSubscriptions)
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
}

// recoverMiddleware converts handler panics into 500s instead of killing
// the connection goroutine silently.
func (g *Gateway) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("handler panicked", "path", r.URL.Path, "panic", rec)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// setupTCPListener creates a standard TCP listener for the HTTP server.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startWorkers launches the lifecycle runner and connectivity syncer.
// Worker failures other than context cancellation land on errCh.
func (g *Gateway) startWorkers(ctx context.Context, errCh chan error) {
	go func() {
		if err := g.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			errCh <- fmt.Errorf("lifecycle runner: %w", err)
		}
	}()

	go func() {
		if err := g.syncer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("syncer: %w", err)
		}
	}()
}

// startServer starts the HTTP server in a goroutine, reporting on errCh.
func (g *Gateway) startServer(ln net.Listener, errCh chan error) {
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a component fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("gateway starting", "server_id", g.serverID, "generation", g.manifest.Generation)

	listener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)
	g.startWorkers(ctx, errCh)
	g.startServer(listener, errCh)

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "shuna-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		return g.createTailscaleTLSListener(tsCfg)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener from configured cert files.
func (g *Gateway) createTailscaleTLSListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with configured certs on :443", "cert_file", tsCfg.CertFile)
	cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.hub.Close()
	g.interceptor.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the shell generation is active.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	state := g.runner.State()
	if state != lifecycle.StateActive {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready (%s)", state)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%s)", g.manifest.Generation)
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("shuna-gateway-%d", time.Now().UnixNano()%1000000)
}
