// ABOUTME: Configuration loading and parsing for shuna-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete shuna-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Shell     ShellConfig     `yaml:"shell"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Push      PushConfig      `yaml:"push"`
	Sync      SyncConfig      `yaml:"sync"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicOrigin is the host[:port] clients reach the gateway on. When set,
	// requests addressed to other hosts bypass the cache entirely.
	PublicOrigin string `yaml:"public_origin"`
}

// UpstreamConfig holds the application server the gateway fronts
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ShellConfig holds web shell asset manifest configuration
type ShellConfig struct {
	// ManifestPath points at an on-disk manifest overriding the embedded one
	ManifestPath string `yaml:"manifest_path"`
}

// LifecycleConfig holds install and activation behavior
type LifecycleConfig struct {
	// WaitForClients delays activation of a freshly installed version until
	// no client views are connected. Off by default: new versions take over
	// immediately.
	WaitForClients bool `yaml:"wait_for_clients"`

	RetryInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RetryIntervalRaw string `yaml:"retry_interval"`
}

// PushConfig holds Web Push / VAPID configuration
type PushConfig struct {
	// Subscriber is the contact for VAPID claims (mailto: or https: URL)
	Subscriber      string `yaml:"subscriber"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	TTL             int    `yaml:"ttl"`
}

// SyncConfig holds upstream connectivity probe configuration
type SyncConfig struct {
	ProbeInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ProbeIntervalRaw string `yaml:"probe_interval"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", c.Upstream.BaseURL)
	}

	// VAPID keys come as a pair
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Upstream.RequestTimeoutRaw != "" {
		cfg.Upstream.RequestTimeout, err = time.ParseDuration(cfg.Upstream.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Upstream.RequestTimeoutRaw, err)
		}
	}

	if cfg.Lifecycle.RetryIntervalRaw != "" {
		cfg.Lifecycle.RetryInterval, err = time.ParseDuration(cfg.Lifecycle.RetryIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_interval %q: %w", cfg.Lifecycle.RetryIntervalRaw, err)
		}
	}

	if cfg.Sync.ProbeIntervalRaw != "" {
		cfg.Sync.ProbeInterval, err = time.ParseDuration(cfg.Sync.ProbeIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing probe_interval %q: %w", cfg.Sync.ProbeIntervalRaw, err)
		}
	}

	return nil
}
