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
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// DefaultPostgresTable is the table PostgresStore uses when none is configured.
const DefaultPostgresTable = "keeper_records"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresStore is a keeper.TierAdapter on a remote PostgreSQL table. It is the
// remote relational tier and is always used behind keeper.WithTimeout.
type PostgresStore struct {
	db        *sql.DB
	table     string
	namespace string
	owned     bool
	logger    *zap.Logger

	getQuery    string
	putQuery    string
	deleteQuery string
	clearQuery  string
}

// NewPostgresStore connects to the database described by config, verifies it with a
// ping and, when AutoMigrate is set, creates the table.
func NewPostgresStore(ctx context.Context, config *BackendConfig, logger *zap.Logger) (*PostgresStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("%w: postgres DSN is required", keeper.ErrInvalidConfig)
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, config.connectTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	s, err := NewPostgresStoreWithDB(db, config.Table, config.Prefix, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true

	if config.AutoMigrate {
		if err := s.Migrate(pingCtx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewPostgresStoreWithDB creates a store over an open connection pool.
func NewPostgresStoreWithDB(db *sql.DB, table, namespace string, logger *zap.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: postgres database is nil", keeper.ErrInvalidConfig)
	}
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", keeper.ErrInvalidConfig, table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:          db,
		table:       table,
		namespace:   namespace,
		logger:      logger.With(zap.String("component", "postgres_tier"), zap.String("table", table)),
		getQuery:    "SELECT value FROM " + table + " WHERE namespace = $1 AND key = $2",
		putQuery:    "INSERT INTO " + table + " (namespace, key, value, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at",
		deleteQuery: "DELETE FROM " + table + " WHERE namespace = $1 AND key = $2",
		clearQuery:  "DELETE FROM " + table + " WHERE namespace = $1",
	}, nil
}

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		namespace  TEXT        NOT NULL,
		key        TEXT        NOT NULL,
		value      BYTEA       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.getQuery, s.namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap(err)
	}
	return value, true, nil
}

// Put upserts value under key.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.putQuery, s.namespace, key, value, time.Now().UTC())
	return s.wrap(err)
}

// Delete removes key. Deleting an absent key succeeds.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.deleteQuery, s.namespace, key)
	return s.wrap(err)
}

// Clear deletes every record of the namespace.
func (s *PostgresStore) Clear(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, s.clearQuery, s.namespace)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.table, s.wrap(err))
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("cleared postgres tier", zap.Int64("deleted", n))
	}
	return nil
}

// Close closes the pool if the store opened it.
func (s *PostgresStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) wrap(err error) error {
	if err != nil && errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", keeper.ErrTierClosed, err)
	}
	return err
}
