// Package config handles configuration loading for shuna-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Durations are written as strings and parsed with Go's
// time.ParseDuration syntax. Load validates the result before returning it.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SHUNA_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  public_origin: "shuna.example.com"  # requests to other hosts bypass the cache
//
// Upstream origin (the application server the gateway fronts):
//
//	upstream:
//	  base_url: "http://localhost:3000"
//	  request_timeout: "15s"
//
// Database:
//
//	database:
//	  path: "/var/lib/shuna/gateway.db"
//
// Shell manifest override (the embedded manifest is used when unset):
//
//	shell:
//	  manifest_path: "/etc/shuna/manifest.toml"
//
// Install and activation behavior:
//
//	lifecycle:
//	  wait_for_clients: false  # true parks new generations until clients disconnect
//	  retry_interval: "1m"
//
// Web Push / VAPID:
//
//	push:
//	  subscriber: "mailto:ops@example.com"
//	  vapid_public_key: "${SHUNA_VAPID_PUBLIC}"
//	  vapid_private_key: "${SHUNA_VAPID_PRIVATE}"
//	  ttl: 60
//
// Connectivity probing:
//
//	sync:
//	  probe_interval: "30s"
//
// Authentication (operator API bearer tokens; open when unset):
//
//	auth:
//	  jwt_secret: "${SHUNA_JWT_SECRET}"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "shuna-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - server.http_addr present (unless tailscale is enabled)
//   - tailscale.hostname present when tailscale is enabled
//   - database.path present
//   - upstream.base_url present and an absolute URL
//   - VAPID keys set as a pair
//   - Duration format validity
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/shuna/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
