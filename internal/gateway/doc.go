// Package gateway orchestrates the shuna-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the shuna-gateway
// server. It owns and manages all major components: the HTTP server, the
// cache store, the lifecycle runner, the fetch interceptor, the push
// service, and the background syncer.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config      *config.Config
//	    store       cachestore.Store
//	    manifest    *shell.Manifest
//	    hub         *hub.Hub
//	    runner      *lifecycle.Runner
//	    interceptor *fetch.Interceptor
//	    push        *push.Service
//	    syncer      *syncer.Syncer
//	    httpServer  *http.Server
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /api/version - Shell generation, lifecycle state, connectivity, server ID
//   - GET /api/events - SSE stream of gateway events
//   - POST /api/message - Control protocol (SKIP_WAITING, GET_VERSION, CACHE_CONVERSATION)
//   - POST /api/push - Ingest a push payload
//   - GET /api/notifications - Recent notifications
//   - POST /api/notifications/{id}/click - Resolve a notification click
//   - POST /api/sync - Register a background sync tag
//   - GET /api/caches - List named caches
//   - DELETE /api/caches/{name} - Drop a cache
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (shell active)
//
// Every other path falls through to the cache-first fetch interceptor,
// which answers from the generation caches before trying the upstream.
//
// # SSE Streaming
//
// Gateway events are streamed as Server-Sent Events with replay IDs:
//
//	id: 8f14e45f-...
//	event: notification
//	data: {"id":"...","title":"Shuna AI Companion","body":"..."}
//
// Event types: connected, controllerchange, notification, sync, focus.
// Clients resume with the Last-Event-ID header after a reconnect.
//
// # Auth
//
// When auth.jwt_secret is configured, the operator surface (push ingest,
// cache admin, subscription listing) requires a bearer JWT. The client
// surface used by shell pages stays open either way.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run owns shutdown: once its context ends it stops the HTTP server, the
// tailscale node when one is up, the event hub, and the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers and SSE streaming
package gateway
