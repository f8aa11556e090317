// SPDX-License-Identifier: MIT

// Package storage provides the keyed value store that persists the webhook
// identity set, the INPUT configuration value and offloaded payloads.
// Badger is the default backend; Redis is available for deployments that
// already run one.
package storage

import (
	"context"
	"fmt"
)

// Keys reserved by the daemon.
const (
	KeyWebhooks = "WEBHOOKS"
	KeyInput    = "INPUT"
)

// KV is a minimal keyed byte store. Get returns (nil, nil) for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend   string // "badger" or "redis"
	DataDir   string // badger only
	RedisAddr string // redis only
}

// Open creates the configured KV backend.
func Open(opts Options) (KV, error) {
	switch opts.Backend {
	case "", "badger":
		return OpenBadger(opts.DataDir)
	case "redis":
		return OpenRedis(opts.RedisAddr)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", opts.Backend)
	}
}
