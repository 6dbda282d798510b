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
	"io"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// Set holds the opened adapters of every configured tier.
type Set struct {
	adapters   map[keeper.Tier]keeper.TierAdapter
	order      []keeper.Tier
	closers    []io.Closer
	badgerDBs  map[string]*badger.DB
	watchPaths []string
	logger     *zap.Logger
}

// Open opens the backend of every enabled tier. Tiers configured with badger on the
// same path share one database, separated by their key prefixes. On error every
// backend opened so far is closed.
func Open(ctx context.Context, config *Config, logger *zap.Logger) (*Set, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tier config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Set{
		adapters:  make(map[keeper.Tier]keeper.TierAdapter),
		badgerDBs: make(map[string]*badger.DB),
		logger:    logger.With(zap.String("component", "tier_set")),
	}
	for _, t := range config.Enabled() {
		b := config.Backend(t)
		if err := s.open(ctx, t, b, logger); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s tier: %w", t, err)
		}
		s.logger.Info("opened tier",
			zap.String("tier", string(t)),
			zap.String("driver", b.Driver),
			zap.String("prefix", b.Prefix),
		)
	}
	return s, nil
}

func (s *Set) open(ctx context.Context, t keeper.Tier, b *BackendConfig, logger *zap.Logger) error {
	var (
		adapter keeper.TierAdapter
		closer  io.Closer
	)
	switch b.Driver {
	case DriverMemory:
		m := NewMemoryStore(b.QuotaBytes)
		adapter, closer = m, m
	case DriverBadger:
		db, err := s.badger(b)
		if err != nil {
			return err
		}
		bs, err := NewBadgerStoreWithDB(db, b.Prefix, b.QuotaBytes, logger)
		if err != nil {
			return err
		}
		adapter, closer = bs, bs
		if b.Path != "" {
			s.watch(b.Path)
		}
	case DriverRedis:
		rs, err := NewRedisStore(ctx, b, logger)
		if err != nil {
			return err
		}
		adapter, closer = rs, rs
	case DriverSQLite, DriverMySQL:
		gs, err := NewGormStore(b, logger)
		if err != nil {
			return err
		}
		adapter, closer = gs, gs
		if b.Driver == DriverSQLite {
			if p := sqlitePath(b.DSN); p != "" {
				s.watch(filepath.Dir(p))
			}
		}
	case DriverPostgres:
		ps, err := NewPostgresStore(ctx, b, logger)
		if err != nil {
			return err
		}
		adapter, closer = ps, ps
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, b.Driver)
	}

	s.adapters[t] = adapter
	s.order = append(s.order, t)
	s.closers = append(s.closers, closer)
	return nil
}

// badger returns the database at b.Path, opening it on first use.
func (s *Set) badger(b *BackendConfig) (*badger.DB, error) {
	if db, ok := s.badgerDBs[b.Path]; ok {
		return db, nil
	}
	db, err := OpenBadger(b.Path, b.SyncWrites)
	if err != nil {
		return nil, err
	}
	s.badgerDBs[b.Path] = db
	return db, nil
}

func (s *Set) watch(dir string) {
	for _, p := range s.watchPaths {
		if p == dir {
			return
		}
	}
	s.watchPaths = append(s.watchPaths, dir)
}

// sqlitePath extracts the database file from a sqlite DSN. In-memory DSNs have none.
func sqlitePath(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// Adapters returns the opened adapters keyed by tier.
func (s *Set) Adapters() map[keeper.Tier]keeper.TierAdapter {
	out := make(map[keeper.Tier]keeper.TierAdapter, len(s.adapters))
	for t, a := range s.adapters {
		out[t] = a
	}
	return out
}

// Tiers returns the opened tiers in read order.
func (s *Set) Tiers() []keeper.Tier {
	return append([]keeper.Tier(nil), s.order...)
}

// WatchPaths returns the local directories holding file-backed tiers, for a keeper.PathWatcher.
func (s *Set) WatchPaths() []string {
	return append([]string(nil), s.watchPaths...)
}

// Close closes every adapter, then the shared badger databases.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for path, db := range s.badgerDBs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close badger %q: %w", path, err))
		}
	}
	s.closers = nil
	s.badgerDBs = map[string]*badger.DB{}
	return errors.Join(errs...)
}
