// SPDX-License-Identifier: MIT

package payload

import (
	"bytes"
	"context"
	"testing"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/capture"
	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := storage.OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return NewStore(kv)
}

func TestPutGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Binary bytes must round-trip unchanged.
	data := []byte{0x00, 0xff, 0x1b, '{', 'a', 0x07}
	if err := s.Put(ctx, "payload:evt-1", data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "payload:evt-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get = %v, want %v", got, data)
	}

	if err := s.Delete(ctx, "payload:evt-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = s.Get(ctx, "payload:evt-1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %v", got)
	}

	// Deleting a missing key is a no-op.
	if err := s.Delete(ctx, "payload:evt-never"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestOffloadAndRehydrate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	body := bytes.Repeat([]byte("x"), 1024)
	desc, err := s.Offload(ctx, "evt-big", body)
	if err != nil {
		t.Fatalf("Offload: %v", err)
	}
	if desc.Key != "payload:evt-big" {
		t.Fatalf("Key = %q, want payload:evt-big", desc.Key)
	}
	if !capture.IsOffloadMarker(desc.Data) {
		t.Fatalf("Data = %q, want an offload marker", desc.Data)
	}

	data, offloaded, err := s.Rehydrate(ctx, desc)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if !offloaded {
		t.Fatal("descriptor not recognized")
	}
	if !bytes.Equal(data, body) {
		t.Fatalf("rehydrated %d bytes, want %d", len(data), len(body))
	}

	// The decoded-JSON shape of a descriptor must rehydrate too.
	data, offloaded, err = s.Rehydrate(ctx, map[string]any{
		"data": capture.OffloadMarkerSync,
		"key":  "payload:evt-big",
	})
	if err != nil || !offloaded || !bytes.Equal(data, body) {
		t.Fatalf("map-shaped descriptor: data=%d offloaded=%v err=%v", len(data), offloaded, err)
	}
}

func TestRehydrateNonDescriptor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, body := range []any{nil, "inline text", map[string]any{"data": "x"}, 42} {
		data, offloaded, err := s.Rehydrate(ctx, body)
		if err != nil {
			t.Fatalf("Rehydrate(%v): %v", body, err)
		}
		if offloaded || data != nil {
			t.Fatalf("Rehydrate(%v) = (%v, %v), want inline", body, data, offloaded)
		}
	}
}

func TestRehydrateMissingPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	desc := capture.NewOffloadDescriptor("payload:evt-gone")
	data, offloaded, err := s.Rehydrate(ctx, desc)
	if err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if !offloaded {
		t.Fatal("descriptor must be recognized even when the bytes are gone")
	}
	if data != nil {
		t.Fatalf("data = %v, want nil for missing payload", data)
	}
}
