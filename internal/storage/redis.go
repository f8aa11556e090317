// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces daemon keys inside a shared Redis.
const keyPrefix = "wdl:"

// RedisKV stores values in an external Redis server.
type RedisKV struct {
	client *redis.Client
}

// OpenRedis connects to the Redis server and verifies the connection.
func OpenRedis(addr string) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("storage")
	logger.Info().
		Str(log.FieldBackend, "redis").
		Str("addr", addr).
		Msg("keyed storage opened")

	return &RedisKV{client: client}, nil
}

// Get returns the value for key, or (nil, nil) when absent.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Put stores the value under key without expiry.
func (s *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, keyPrefix+key, value, 0).Err()
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

// Close closes the client connection pool.
func (s *RedisKV) Close() error {
	return s.client.Close()
}

var _ KV = (*RedisKV)(nil)
