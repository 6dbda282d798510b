// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package tier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// BadgerStore is a persistent keeper.TierAdapter on an embedded badger database.
// Several stores can share one database; each owns the keys under its prefix.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	quota  int64
	owned  bool
	logger *zap.Logger

	// mu serializes writes so quota accounting stays exact
	mu     sync.Mutex
	used   int64
	closed bool
}

// OpenBadger opens a badger database at dir. An empty dir opens an in-memory database.
func OpenBadger(dir string, syncWrites bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(syncWrites).
		WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database %q: %w", dir, err)
	}
	return db, nil
}

// NewBadgerStore opens its own database described by config. Close closes it.
func NewBadgerStore(config *BackendConfig, logger *zap.Logger) (*BadgerStore, error) {
	if config == nil {
		config = &BackendConfig{Driver: DriverBadger}
	}
	db, err := OpenBadger(config.Path, config.SyncWrites)
	if err != nil {
		return nil, err
	}
	s, err := NewBadgerStoreWithDB(db, config.Prefix, config.QuotaBytes, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewBadgerStoreWithDB creates a store over a shared database. Close leaves db open.
func NewBadgerStoreWithDB(db *badger.DB, prefix string, quota int64, logger *zap.Logger) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: badger database is nil", keeper.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BadgerStore{
		db:     db,
		prefix: []byte(prefix),
		quota:  quota,
		logger: logger.With(zap.String("component", "badger_tier"), zap.String("prefix", prefix)),
	}
	used, err := s.measure()
	if err != nil {
		return nil, err
	}
	s.used = used
	return s, nil
}

func (s *BadgerStore) key(k string) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// measure sums the size of every entry under the prefix.
func (s *BadgerStore) measure() (int64, error) {
	var used int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			used += int64(len(item.Key())-len(s.prefix)) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure badger prefix: %w", err)
	}
	return used, nil
}

// Get returns the value stored under key.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.isClosed() {
		return nil, false, keeper.ErrTierClosed
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores value under key. Writes beyond the quota fail with keeper.ErrQuotaExceeded.
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keeper.ErrTierClosed
	}

	var delta int64
	err := s.db.Update(func(txn *badger.Txn) error {
		k := s.key(key)
		delta = int64(len(key) + len(value))
		item, err := txn.Get(k)
		switch {
		case err == nil:
			delta -= int64(len(key)) + item.ValueSize()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if s.quota > 0 && s.used+delta > s.quota {
			return fmt.Errorf("%w: %d of %d bytes used", keeper.ErrQuotaExceeded, s.used, s.quota)
		}
		return txn.Set(k, value)
	})
	if err != nil {
		return err
	}
	s.used += delta
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keeper.ErrTierClosed
	}

	var freed int64
	err := s.db.Update(func(txn *badger.Txn) error {
		k := s.key(key)
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		freed = int64(len(key)) + item.ValueSize()
		return txn.Delete(k)
	})
	if err != nil {
		return err
	}
	s.used -= freed
	return nil
}

// Clear removes every key under the prefix. Without a prefix the whole database is dropped.
func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return keeper.ErrTierClosed
	}

	var err error
	if len(s.prefix) == 0 {
		err = s.db.DropAll()
	} else {
		err = s.db.DropPrefix(s.prefix)
	}
	if err != nil {
		return fmt.Errorf("failed to clear badger tier: %w", err)
	}
	s.used = 0
	s.logger.Debug("cleared badger tier")
	return nil
}

// Used returns the bytes held under the prefix.
func (s *BadgerStore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Close marks the store closed. The database is closed only if the store opened it.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *BadgerStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
