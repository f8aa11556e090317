// SPDX-License-Identifier: MIT

// Package webhooks owns the webhook identity set: allocation, expiry,
// persistence in keyed storage and cleanup of expired identities together
// with their logs and offloaded payloads.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/storage"
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Webhook is one persisted identity. Validity is now < ExpiresAt.
type Webhook struct {
	ID             string  `json:"id"`
	CreatedAt      int64   `json:"createdAt"` // unix milliseconds
	ExpiresAt      int64   `json:"expiresAt"` // unix milliseconds
	RetentionHours float64 `json:"retentionHours"`
	ForwardURL     string  `json:"forwardUrl,omitempty"`
}

// LogPurger is the slice of the log repository cleanup needs.
type LogPurger interface {
	FindOffloadedPayloads(ctx context.Context, webhookID string) ([]string, error)
	DeleteLogsByWebhookID(ctx context.Context, webhookID string) (int64, error)
}

// PayloadDeleter is the slice of the payload store cleanup needs.
type PayloadDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Manager keeps the identity set in memory and snapshots it to keyed
// storage under the WEBHOOKS key. All methods are safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	kv    storage.KV
	clock clock
	items map[string]Webhook
	log   zerolog.Logger
}

// Option customizes the manager.
type Option func(*Manager)

func WithClock(c clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager builds an empty manager over the keyed storage backend.
func NewManager(kv storage.KV, opts ...Option) *Manager {
	m := &Manager{
		kv:    kv,
		clock: realClock{},
		items: make(map[string]Webhook),
		log:   log.WithComponent("webhooks"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the persisted identity set. Missing or corrupt state starts
// empty; failures are logged, never returned.
func (m *Manager) Init(ctx context.Context) {
	raw, err := m.kv.Get(ctx, storage.KeyWebhooks)
	if err != nil {
		m.log.Error().Err(err).
			Str("event", "webhooks.load_failed").
			Msg("could not load webhook state, starting empty")
		return
	}
	if raw == nil {
		m.log.Info().
			Str("event", "webhooks.init").
			Msg("no persisted webhooks, starting empty")
		return
	}

	var items map[string]Webhook
	if err := json.Unmarshal(raw, &items); err != nil {
		m.log.Error().Err(err).
			Str("event", "webhooks.corrupt_state").
			Msg("persisted webhook state unreadable, starting empty")
		return
	}

	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
	m.log.Info().
		Str("event", "webhooks.init").
		Int(log.FieldCount, len(items)).
		Msg("webhook state loaded")
}

// Generate allocates count fresh identities expiring retentionHours from
// now and persists the set. forwardURL, when non-empty, is stored on each
// new record and wins over the globally configured forward target.
func (m *Manager) Generate(ctx context.Context, count int, retentionHours float64, forwardURL string) ([]string, error) {
	if count < 0 {
		return nil, fmt.Errorf("webhooks: count must not be negative, got %d", count)
	}
	if retentionHours <= 0 || math.IsInf(retentionHours, 0) || math.IsNaN(retentionHours) {
		return nil, fmt.Errorf("webhooks: retentionHours must be positive and finite, got %v", retentionHours)
	}
	if count == 0 {
		return []string{}, nil
	}

	now := m.clock.Now()
	expires := now.Add(time.Duration(retentionHours * float64(time.Hour)))

	ids := make([]string, 0, count)
	m.mu.Lock()
	for i := 0; i < count; i++ {
		id := capture.NewWebhookID()
		m.items[id] = Webhook{
			ID:             id,
			CreatedAt:      now.UnixMilli(),
			ExpiresAt:      expires.UnixMilli(),
			RetentionHours: retentionHours,
			ForwardURL:     forwardURL,
		}
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.log.Info().
		Str("event", "webhooks.generated").
		Int(log.FieldCount, count).
		Float64("retention_hours", retentionHours).
		Msg("webhooks generated")
	_ = m.Persist(ctx)
	return ids, nil
}

// IsValid reports whether the id exists and has not expired.
func (m *Manager) IsValid(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.items[id]
	return ok && m.clock.Now().UnixMilli() < w.ExpiresAt
}

// Has reports bare existence, expired or not.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[id]
	return ok
}

// Data returns a copy of the record.
func (m *Manager) Data(id string) (Webhook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.items[id]
	return w, ok
}

// AllActive returns the non-expired identities, oldest first.
func (m *Manager) AllActive() []Webhook {
	now := m.clock.Now().UnixMilli()

	m.mu.RLock()
	out := make([]Webhook, 0, len(m.items))
	for _, w := range m.items {
		if now < w.ExpiresAt {
			out = append(out, w)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count reports the total number of tracked identities, expired included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// UpdateRetention extends every active identity to at least now+hours and
// persists. Expired identities are left for cleanup. Returns how many
// records changed.
func (m *Manager) UpdateRetention(ctx context.Context, hours float64) int {
	if hours <= 0 || math.IsInf(hours, 0) || math.IsNaN(hours) {
		return 0
	}
	now := m.clock.Now()
	floor := now.Add(time.Duration(hours * float64(time.Hour))).UnixMilli()

	changed := 0
	m.mu.Lock()
	for id, w := range m.items {
		if now.UnixMilli() >= w.ExpiresAt {
			continue
		}
		w.RetentionHours = hours
		if w.ExpiresAt < floor {
			w.ExpiresAt = floor
			changed++
		}
		m.items[id] = w
	}
	m.mu.Unlock()

	if changed > 0 {
		m.log.Info().
			Str("event", "webhooks.retention_updated").
			Float64("retention_hours", hours).
			Int(log.FieldCount, changed).
			Msg("webhook expiry extended")
	}
	_ = m.Persist(ctx)
	return changed
}

// Persist snapshots the full identity map to keyed storage. Failures are
// logged and returned, but callers may safely ignore them: the in-memory
// set stays authoritative until the next snapshot.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.RLock()
	raw, err := json.Marshal(m.items)
	m.mu.RUnlock()
	if err != nil {
		m.log.Error().Err(err).
			Str("event", "webhooks.persist_failed").
			Msg("could not encode webhook state")
		return err
	}
	if err := m.kv.Put(ctx, storage.KeyWebhooks, raw); err != nil {
		m.log.Error().Err(err).
			Str("event", "webhooks.persist_failed").
			Msg("could not write webhook state")
		return err
	}
	return nil
}

// Cleanup removes expired identities along with their logs and offloaded
// payloads, then persists the shrunken set. Individual deletion failures
// are logged and skip the identity so a later run can retry it.
func (m *Manager) Cleanup(ctx context.Context, logs LogPurger, payloads PayloadDeleter) int {
	now := m.clock.Now().UnixMilli()

	m.mu.RLock()
	var expired []string
	for id, w := range m.items {
		if now >= w.ExpiresAt {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}
	sort.Strings(expired)

	removed := 0
	for _, id := range expired {
		if logs != nil {
			keys, err := logs.FindOffloadedPayloads(ctx, id)
			if err != nil {
				m.log.Error().Err(err).
					Str("event", "webhooks.cleanup_failed").
					Str(log.FieldWebhookID, id).
					Msg("could not enumerate offloaded payloads")
				continue
			}
			if payloads != nil {
				for _, key := range keys {
					if err := payloads.Delete(ctx, key); err != nil {
						m.log.Warn().Err(err).
							Str("event", "webhooks.cleanup_payload_failed").
							Str(log.FieldKey, key).
							Msg("could not delete offloaded payload")
					}
				}
			}
			if _, err := logs.DeleteLogsByWebhookID(ctx, id); err != nil {
				m.log.Error().Err(err).
					Str("event", "webhooks.cleanup_failed").
					Str(log.FieldWebhookID, id).
					Msg("could not delete logs")
				continue
			}
		}

		m.mu.Lock()
		delete(m.items, id)
		m.mu.Unlock()
		removed++
	}

	if removed > 0 {
		m.log.Info().
			Str("event", "webhooks.cleanup").
			Int(log.FieldCount, removed).
			Msg("expired webhooks removed")
		_ = m.Persist(ctx)
	}
	return removed
}
