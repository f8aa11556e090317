// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder holds the configuration snapshot with atomic reloading capability.
// It provides thread-safe access and supports hot reload from the watched
// config file, the keyed-storage INPUT value and SIGHUP.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// Reload notifications
	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config
}

// NewHolder creates a configuration holder with an initial snapshot.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current:         initial,
		loader:          loader,
		logger:          log.WithComponent("config"),
		reloadListeners: make([]chan<- Config, 0),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload rebuilds the configuration from all sources and validates it.
// If validation fails the old snapshot is kept and an error is returned, so
// an update is either fully applied or not at all.
func (h *Holder) Reload(ctx context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load(ctx)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	if err := Validate(newCfg); err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.validation_failed").
			Msg("new configuration failed validation")
		return fmt.Errorf("validate config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	newCfg = preserveBootFields(h.logger, oldCfg, newCfg)
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	if err := WriteEffective(newCfg.DataDir, newCfg); err != nil {
		h.logger.Warn().
			Err(err).
			Str("event", "config.mirror_failed").
			Msg("failed to mirror effective configuration")
	}

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")

	return nil
}

// StartWatcher starts watching the config file for changes.
// If the loader has no file path, this is a no-op (ENV/INPUT only).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.loader.Path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (no config file)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	h.watcher = watcher

	if err := watcher.Add(h.loader.Path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.loader.Path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)

	return nil
}

// watchLoop is the main file watcher loop.
func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Write and Create cover vim, nano and shell redirection saves
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// The channel receives the new snapshot whenever a reload succeeds.
// The caller is responsible for closing the channel.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

// notifyListeners sends the new config to all registered listeners (non-blocking).
func (h *Holder) notifyListeners(newCfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// preserveBootFields keeps boot-only settings from the running snapshot and
// warns when a reload tried to change them.
func preserveBootFields(logger zerolog.Logger, old, newCfg Config) Config {
	warn := func(field string) {
		logger.Warn().
			Str("event", "config.boot_field_ignored").
			Str("field", field).
			Msg("field cannot be changed at runtime, keeping current value")
	}

	if newCfg.Listen != old.Listen {
		warn("listen")
		newCfg.Listen = old.Listen
	}
	if newCfg.DataDir != old.DataDir {
		warn("dataDir")
		newCfg.DataDir = old.DataDir
	}
	if newCfg.Storage != old.Storage {
		warn("storage")
		newCfg.Storage = old.Storage
	}
	if newCfg.RedisAddr != old.RedisAddr {
		warn("redisAddr")
		newCfg.RedisAddr = old.RedisAddr
	}
	if newCfg.URLCount != old.URLCount {
		warn("urlCount")
		newCfg.URLCount = old.URLCount
	}
	if newCfg.UseFixedMemory != old.UseFixedMemory {
		warn("useFixedMemory")
		newCfg.UseFixedMemory = old.UseFixedMemory
	}
	if newCfg.FixedMemoryMbytes != old.FixedMemoryMbytes {
		warn("fixedMemoryMbytes")
		newCfg.FixedMemoryMbytes = old.FixedMemoryMbytes
	}
	if newCfg.BackgroundWorkers != old.BackgroundWorkers {
		warn("backgroundWorkers")
		newCfg.BackgroundWorkers = old.BackgroundWorkers
	}
	if newCfg.MgmtRateLimitPerMinute != old.MgmtRateLimitPerMinute {
		// The management limiter is wired into the router at boot.
		warn("mgmtRateLimitPerMinute")
		newCfg.MgmtRateLimitPerMinute = old.MgmtRateLimitPerMinute
	}
	if newCfg.Telemetry != old.Telemetry {
		warn("telemetry")
		newCfg.Telemetry = old.Telemetry
	}

	return newCfg
}
