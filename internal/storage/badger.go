// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ar27111994/webhook-debugger-logger-sub001/internal/log"
	"github.com/dgraph-io/badger/v4"
)

// BadgerKV stores values in an embedded Badger database under the data
// directory. It is the default backend.
type BadgerKV struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store at <dataDir>/kv.
func OpenBadger(dataDir string) (*BadgerKV, error) {
	path := filepath.Join(dataDir, "kv")
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store at %s: %w", path, err)
	}
	logger := log.WithComponent("storage")
	logger.Info().
		Str(log.FieldBackend, "badger").
		Str("path", path).
		Msg("keyed storage opened")
	return &BadgerKV{db: db}, nil
}

// Get returns the value for key, or (nil, nil) when absent.
func (s *BadgerKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// Put stores the value under key.
func (s *BadgerKV) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close releases the database.
func (s *BadgerKV) Close() error {
	return s.db.Close()
}

var _ KV = (*BadgerKV)(nil)
