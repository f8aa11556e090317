// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// EffectiveFileName is the operator-readable mirror of the active snapshot,
// written to the data directory after every successful reload.
const EffectiveFileName = "config.effective.json"

// WriteEffective atomically writes the masked effective configuration.
func WriteEffective(dataDir string, cfg Config) error {
	masked := cfg
	masked.AuthKey = maskSecret(cfg.AuthKey)
	masked.Signature.Secret = maskSecret(cfg.Signature.Secret)

	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal effective config: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dataDir, EffectiveFileName)
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
