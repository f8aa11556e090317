// SPDX-License-Identifier: MIT

package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func openBackends(t *testing.T) map[string]KV {
	t.Helper()

	badgerKV, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = badgerKV.Close() })

	mr := miniredis.RunT(t)
	redisKV, err := OpenRedis(mr.Addr())
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = redisKV.Close() })

	return map[string]KV{
		"badger": badgerKV,
		"redis":  redisKV,
	}
}

func TestKVRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			value := []byte(`{"hello":"world"}`)

			if err := kv.Put(ctx, "payload:abc", value); err != nil {
				t.Fatalf("Put() error: %v", err)
			}

			got, err := kv.Get(ctx, "payload:abc")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if !bytes.Equal(got, value) {
				t.Errorf("Get() = %q, want %q", got, value)
			}

			if err := kv.Delete(ctx, "payload:abc"); err != nil {
				t.Fatalf("Delete() error: %v", err)
			}

			got, err = kv.Get(ctx, "payload:abc")
			if err != nil {
				t.Fatalf("Get() after delete error: %v", err)
			}
			if got != nil {
				t.Errorf("Get() after delete = %q, want nil", got)
			}
		})
	}
}

func TestKVMissingKey(t *testing.T) {
	ctx := context.Background()

	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := kv.Get(ctx, "never-written")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if got != nil {
				t.Errorf("Get() = %q, want nil for missing key", got)
			}

			if err := kv.Delete(ctx, "never-written"); err != nil {
				t.Errorf("Delete() of missing key should not error: %v", err)
			}
		})
	}
}

func TestKVOverwrite(t *testing.T) {
	ctx := context.Background()

	for name, kv := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Put(ctx, KeyWebhooks, []byte("v1")); err != nil {
				t.Fatal(err)
			}
			if err := kv.Put(ctx, KeyWebhooks, []byte("v2")); err != nil {
				t.Fatal(err)
			}
			got, err := kv.Get(ctx, KeyWebhooks)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "v2" {
				t.Errorf("Get() = %q, want v2", got)
			}
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default badger", Options{DataDir: t.TempDir()}, false},
		{"explicit badger", Options{Backend: "badger", DataDir: t.TempDir()}, false},
		{"redis", Options{Backend: "redis", RedisAddr: mr.Addr()}, false},
		{"unknown", Options{Backend: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, err := Open(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			_ = kv.Close()
		})
	}
}
