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
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// Entry is one row of the indexed on-disk store.
type Entry struct {
	Namespace string    `gorm:"primaryKey;size:128"`
	Key       string    `gorm:"primaryKey;size:255"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"index"`
}

// TableName returns the table the entries live in.
func (Entry) TableName() string {
	return "keeper_entries"
}

// GormStore is a keeper.TierAdapter on a relational table accessed through gorm.
// The sqlite dialector gives an indexed store in a single local file; mysql is
// accepted when that store is shared.
type GormStore struct {
	db        *gorm.DB
	namespace string
	owned     bool
	logger    *zap.Logger
}

// NewGormStore opens the database described by config and migrates the entry table.
func NewGormStore(config *BackendConfig, logger *zap.Logger) (*GormStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("%w: database DSN is required", keeper.ErrInvalidConfig)
	}

	var dialector gorm.Dialector
	switch config.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(config.DSN)
	case DriverMySQL:
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("%w: unsupported gorm driver %q", keeper.ErrInvalidConfig, config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Driver, err)
	}

	s, err := NewGormStoreWithDB(db, config.Prefix, logger)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewGormStoreWithDB creates a store over an open connection and migrates the entry table.
func NewGormStoreWithDB(db *gorm.DB, namespace string, logger *zap.Logger) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: gorm database is nil", keeper.ErrInvalidConfig)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", Entry{}.TableName(), err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:        db,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "gorm_tier"), zap.String("namespace", namespace)),
	}, nil
}

// Get returns the value stored under key.
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where(&Entry{Namespace: s.namespace, Key: key}, "Namespace", "Key").
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

// Put upserts value under key.
func (s *GormStore) Put(ctx context.Context, key string, value []byte) error {
	e := Entry{Namespace: s.namespace, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&e).Error
}

// Delete removes key. Deleting an absent key succeeds.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where(&Entry{Namespace: s.namespace, Key: key}, "Namespace", "Key").
		Delete(&Entry{}).Error
}

// Clear deletes every entry of the namespace.
func (s *GormStore) Clear(ctx context.Context) error {
	res := s.db.WithContext(ctx).
		Where(&Entry{Namespace: s.namespace}, "Namespace").
		Delete(&Entry{})
	if res.Error != nil {
		return fmt.Errorf("failed to clear %s: %w", Entry{}.TableName(), res.Error)
	}
	s.logger.Debug("cleared gorm tier", zap.Int64("deleted", res.RowsAffected))
	return nil
}

// Close closes the connection if the store opened it.
func (s *GormStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
