// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeyInput is the keyed-storage value polled for configuration updates.
const KeyInput = "INPUT"

// InputSource reads a value from keyed storage. Implemented by the storage
// backends; declared here so config stays free of backend imports.
type InputSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Loader composes the configuration from defaults, environment, an optional
// local file and the optional keyed-storage INPUT value. Later sources win.
type Loader struct {
	Path  string
	Input InputSource
}

// Load builds a full configuration snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	cfg := Default()
	cfg = applyEnv(cfg)

	if l.Path != "" {
		if err := overlayFile(&cfg, l.Path); err != nil {
			return Config{}, err
		}
	}

	if l.Input != nil {
		raw, err := l.Input.Get(ctx, KeyInput)
		if err != nil {
			return Config{}, fmt.Errorf("read INPUT: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse INPUT: %w", err)
			}
		}
	}

	normalize(&cfg)
	return cfg, nil
}

// overlayFile merges a YAML or JSON config file into cfg. Absent fields keep
// their current values.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	cfg.Signature.Provider = strings.ToLower(strings.TrimSpace(cfg.Signature.Provider))
	cfg.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Exporter))
	if cfg.Storage == "" {
		cfg.Storage = "badger"
	}

	trimmed := cfg.AllowedIPs[:0]
	for _, entry := range cfg.AllowedIPs {
		if entry = strings.TrimSpace(entry); entry != "" {
			trimmed = append(trimmed, entry)
		}
	}
	cfg.AllowedIPs = trimmed
}
