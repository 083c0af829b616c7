// ABOUTME: Web shell asset manifest for the Shuna AI Companion
// ABOUTME: Defines the cache generation, the asset list, and the offline fallback document

// Package shell describes the versioned set of web shell assets the gateway
// keeps available offline. A manifest names a generation (the cache version
// tag), the same-origin asset paths belonging to it, and the offline fallback
// document. A default manifest is embedded; deployments can override it with
// shell.manifest_path.
package shell

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed manifest.toml
var embeddedManifest []byte

// ConversationPath is the fixed path the conversation snapshot is stored
// under in a generation's data cache.
const ConversationPath = "/conversations"

// Manifest is the versioned asset set for one shell generation.
type Manifest struct {
	// Generation tags this asset set, e.g. "shuna-ai-v1.0". It doubles as
	// the name of the cache the assets are installed into.
	Generation string `toml:"generation"`

	// Assets are the same-origin paths cached at install time, in order.
	Assets []string `toml:"assets"`

	// OfflinePath is the document served for page loads while the upstream
	// is unreachable. It must appear in Assets.
	OfflinePath string `toml:"offline_path"`
}

// Load reads a manifest from the given path, or returns the embedded default
// when path is empty.
func Load(path string) (*Manifest, error) {
	data := embeddedManifest
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
	}

	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validating manifest: %w", err)
	}

	return &m, nil
}

// Validate checks that the manifest names a generation, lists at least one
// rooted asset path, and includes the offline document in the asset list.
func (m *Manifest) Validate() error {
	if m.Generation == "" {
		return fmt.Errorf("generation is required")
	}
	if len(m.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	for _, a := range m.Assets {
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("asset %q must be a rooted path", a)
		}
	}
	if m.OfflinePath == "" {
		return fmt.Errorf("offline_path is required")
	}
	if !m.HasAsset(m.OfflinePath) {
		return fmt.Errorf("offline_path %q must be listed in assets", m.OfflinePath)
	}
	return nil
}

// HasAsset reports whether path is part of this generation's asset set.
func (m *Manifest) HasAsset(path string) bool {
	for _, a := range m.Assets {
		if a == path {
			return true
		}
	}
	return false
}

// DataCache returns the name of this generation's companion data cache,
// which holds the conversation snapshot and survives asset reinstalls.
func (m *Manifest) DataCache() string {
	return m.Generation + "-data"
}
