// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  public_origin: "shuna.example.com"

upstream:
  base_url: "http://localhost:3000"
  request_timeout: "15s"

database:
  path: "./test.db"

shell:
  manifest_path: "./manifest.toml"

lifecycle:
  wait_for_clients: true
  retry_interval: "2m"

push:
  subscriber: "mailto:ops@example.com"
  vapid_public_key: "pub-key"
  vapid_private_key: "priv-key"
  ttl: 60

sync:
  probe_interval: "45s"

auth:
  jwt_secret: "secret"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.PublicOrigin != "shuna.example.com" {
		t.Errorf("Server.PublicOrigin = %q, want %q", cfg.Server.PublicOrigin, "shuna.example.com")
	}

	if cfg.Upstream.BaseURL != "http://localhost:3000" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://localhost:3000")
	}
	if cfg.Upstream.RequestTimeout != 15*time.Second {
		t.Errorf("Upstream.RequestTimeout = %v, want %v", cfg.Upstream.RequestTimeout, 15*time.Second)
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Shell.ManifestPath != "./manifest.toml" {
		t.Errorf("Shell.ManifestPath = %q, want %q", cfg.Shell.ManifestPath, "./manifest.toml")
	}

	if !cfg.Lifecycle.WaitForClients {
		t.Error("Lifecycle.WaitForClients = false, want true")
	}
	if cfg.Lifecycle.RetryInterval != 2*time.Minute {
		t.Errorf("Lifecycle.RetryInterval = %v, want %v", cfg.Lifecycle.RetryInterval, 2*time.Minute)
	}

	if cfg.Push.Subscriber != "mailto:ops@example.com" {
		t.Errorf("Push.Subscriber = %q, want %q", cfg.Push.Subscriber, "mailto:ops@example.com")
	}
	if cfg.Push.VAPIDPublicKey != "pub-key" {
		t.Errorf("Push.VAPIDPublicKey = %q, want %q", cfg.Push.VAPIDPublicKey, "pub-key")
	}
	if cfg.Push.TTL != 60 {
		t.Errorf("Push.TTL = %d, want 60", cfg.Push.TTL)
	}

	if cfg.Sync.ProbeInterval != 45*time.Second {
		t.Errorf("Sync.ProbeInterval = %v, want %v", cfg.Sync.ProbeInterval, 45*time.Second)
	}

	if cfg.Auth.JWTSecret != "secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SHUNA_SECRET", "secret-from-env")
	t.Setenv("TEST_SHUNA_VAPID_PRIV", "priv-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

upstream:
  base_url: "http://localhost:3000"

database:
  path: "./test.db"

push:
  vapid_public_key: "pub"
  vapid_private_key: "${TEST_SHUNA_VAPID_PRIV}"

auth:
  jwt_secret: "${TEST_SHUNA_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
	if cfg.Push.VAPIDPrivateKey != "priv-from-env" {
		t.Errorf("Push.VAPIDPrivateKey = %q, want %q", cfg.Push.VAPIDPrivateKey, "priv-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

upstream:
  base_url: "http://localhost:3000"

database:
  path: "./test.db"

auth:
  jwt_secret: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret = %q, want empty string for unset env var", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/gateway.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

upstream:
  base_url: "http://localhost:3000"
  request_timeout: "not-a-duration"

database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
upstream:
  base_url: "http://localhost:3000"
database:
  path: "./test.db"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
upstream:
  base_url: "http://localhost:3000"
database:
  path: ""
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing upstream base_url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
`,
			wantErrSubstr: "upstream.base_url is required",
		},
		{
			name: "relative upstream base_url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
upstream:
  base_url: "localhost:3000"
database:
  path: "./test.db"
`,
			wantErrSubstr: "not an absolute URL",
		},
		{
			name: "vapid public key without private key",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
upstream:
  base_url: "http://localhost:3000"
database:
  path: "./test.db"
push:
  vapid_public_key: "pub"
`,
			wantErrSubstr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantErr       bool
		wantErrSubstr string
	}{
		{
			name: "tailscale enabled allows empty http_addr",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: true, Hostname: "shuna"},
				Upstream:  UpstreamConfig{BaseURL: "http://localhost:3000"},
				Database:  DatabaseConfig{Path: "./test.db"},
			},
			wantErr: false,
		},
		{
			name: "tailscale enabled requires hostname",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: true, Hostname: ""},
				Upstream:  UpstreamConfig{BaseURL: "http://localhost:3000"},
				Database:  DatabaseConfig{Path: "./test.db"},
			},
			wantErr:       true,
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name: "tailscale disabled requires http_addr",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: false, Hostname: "shuna"},
				Upstream:  UpstreamConfig{BaseURL: "http://localhost:3000"},
				Database:  DatabaseConfig{Path: "./test.db"},
			},
			wantErr:       true,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "tailscale with all options set",
			cfg: Config{
				Tailscale: TailscaleConfig{
					Enabled:   true,
					Hostname:  "shuna",
					AuthKey:   "tskey-auth-xxx",
					StateDir:  "/tmp/ts-state",
					Ephemeral: true,
					Funnel:    true,
				},
				Upstream: UpstreamConfig{BaseURL: "http://localhost:3000"},
				Database: DatabaseConfig{Path: "./test.db"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
					return
				}
				if !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}
