// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"context"
	"time"
)

// StartInputPoll watches the keyed-storage INPUT value for changes and
// triggers a reload when its bytes differ from the last observed state.
// It is a no-op when the loader has no input source.
func (h *Holder) StartInputPoll(ctx context.Context, interval time.Duration) {
	if h.loader.Input == nil {
		h.logger.Info().
			Str("event", "config.input_poll_disabled").
			Msg("INPUT polling disabled (no keyed storage source)")
		return
	}

	go h.inputPollLoop(ctx, interval)
}

func (h *Holder) inputPollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeen []byte
	if raw, err := h.loader.Input.Get(ctx, KeyInput); err == nil {
		lastSeen = raw
	}

	h.logger.Info().
		Str("event", "config.input_poll_started").
		Dur("interval", interval).
		Msg("polling keyed storage INPUT for changes")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.input_poll_stopped").Msg("INPUT poll stopped")
			return
		case <-ticker.C:
			raw, err := h.loader.Input.Get(ctx, KeyInput)
			if err != nil {
				h.logger.Warn().
					Err(err).
					Str("event", "config.input_poll_error").
					Msg("failed to read INPUT value")
				continue
			}
			if bytes.Equal(raw, lastSeen) {
				continue
			}
			lastSeen = raw
			h.logger.Info().
				Str("event", "config.input_changed").
				Int("bytes", len(raw)).
				Msg("INPUT value changed, reloading")
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str("event", "config.input_reload_failed").
					Msg("reload from INPUT failed, keeping previous configuration")
			}
		}
	}
}
