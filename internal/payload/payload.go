// SPDX-License-Identifier: MIT

// Package payload offloads large request bodies to the keyed storage
// backend, leaving a small descriptor inline in the capture row.
package payload

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/metrics"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/storage"
)

// KeyPrefix namespaces payload keys inside the shared keyed storage.
const KeyPrefix = "payload:"

// KeyFor builds the storage key for an event's offloaded body.
func KeyFor(eventID string) string {
	return KeyPrefix + eventID
}

// Store reads and writes offloaded bodies. Bytes are opaque: binary and
// text payloads round-trip unchanged.
type Store struct {
	kv  storage.KV
	log zerolog.Logger
}

// NewStore wraps the keyed storage backend.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv, log: log.WithComponent("payload")}
}

// Put stores bytes under an opaque key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.kv.Put(ctx, key, data)
}

// Get returns the stored bytes, or (nil, nil) when the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.kv.Get(ctx, key)
}

// Delete removes a stored payload. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// Offload stores the body under the event's key and returns the descriptor
// that replaces it in the capture row.
func (s *Store) Offload(ctx context.Context, eventID string, data []byte) (capture.OffloadDescriptor, error) {
	key := KeyFor(eventID)
	if err := s.kv.Put(ctx, key, data); err != nil {
		return capture.OffloadDescriptor{}, err
	}
	metrics.RecordPayloadOffload()
	s.log.Debug().
		Str("event", "payload.offload").
		Str(log.FieldEventID, eventID).
		Int("bytes", len(data)).
		Msg("body offloaded")
	return capture.NewOffloadDescriptor(key), nil
}

// Rehydrate resolves a capture body. When the body is an offload descriptor
// the stored bytes are returned with offloaded=true; the bytes are nil if
// the payload has since been deleted. A non-descriptor body returns
// offloaded=false.
func (s *Store) Rehydrate(ctx context.Context, body any) (data []byte, offloaded bool, err error) {
	key, ok := capture.AsOffloadDescriptor(body)
	if !ok {
		return nil, false, nil
	}
	data, err = s.kv.Get(ctx, key)
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}
