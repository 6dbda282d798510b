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
	"errors"
	"fmt"
	"time"

	"github.com/innovationmech/keeper/pkg/keeper"
)

// Backend drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DefaultConnectTimeout bounds connecting to a network backend.
const DefaultConnectTimeout = 5 * time.Second

var (
	// ErrUnknownDriver indicates a backend driver that is not supported.
	ErrUnknownDriver = errors.New("unknown backend driver")

	// ErrDriverNotAllowed indicates a driver that cannot serve the tier it is configured for.
	ErrDriverNotAllowed = errors.New("driver not allowed for tier")
)

// BackendConfig describes the medium behind one tier. An empty Driver disables the tier.
type BackendConfig struct {
	// Driver selects the medium: memory, badger, redis, sqlite, mysql or postgres.
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// Path is the badger directory. Empty opens an in-memory badger database.
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// SyncWrites makes badger fsync every write.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes" mapstructure:"sync_writes"`

	// Addr is the redis address in host:port form.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// Username for redis authentication.
	Username string `json:"username" yaml:"username" mapstructure:"username"`

	// Password for redis authentication.
	Password string `json:"password" yaml:"password" mapstructure:"password"`

	// DB is the redis database number.
	DB int `json:"db" yaml:"db" mapstructure:"db"`

	// TTL expires redis entries. Zero keeps them until deleted.
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// DSN is the connection string of sqlite, mysql and postgres backends.
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// Table overrides the postgres table name.
	// Default: keeper_records
	Table string `json:"table" yaml:"table" mapstructure:"table"`

	// AutoMigrate creates the postgres table on startup.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" mapstructure:"auto_migrate"`

	// MaxOpenConns bounds the postgres connection pool. Zero leaves it unbounded.
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns" mapstructure:"max_open_conns"`

	// Prefix namespaces the tier's keys (key prefix, or namespace column for SQL backends).
	// Default: keeper:<tier>:
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`

	// QuotaBytes bounds memory and badger tiers. Zero means unbounded.
	QuotaBytes int64 `json:"quota_bytes" yaml:"quota_bytes" mapstructure:"quota_bytes"`

	// ConnectTimeout bounds connecting to redis and postgres.
	// Default: 5 seconds
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// Enabled reports whether the tier is configured.
func (b *BackendConfig) Enabled() bool {
	return b != nil && b.Driver != ""
}

func (b *BackendConfig) connectTimeout() time.Duration {
	if b.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return b.ConnectTimeout
}

// Validate checks the fields the driver needs.
func (b *BackendConfig) Validate() error {
	if b.QuotaBytes < 0 {
		return errors.New("quota cannot be negative")
	}
	if b.TTL < 0 {
		return errors.New("TTL cannot be negative")
	}
	switch b.Driver {
	case "", DriverMemory, DriverBadger:
	case DriverRedis:
		if b.Addr == "" {
			return errors.New("redis address is required")
		}
	case DriverSQLite, DriverMySQL, DriverPostgres:
		if b.DSN == "" {
			return fmt.Errorf("%s DSN is required", b.Driver)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, b.Driver)
	}
	return nil
}

// Config selects the backend of every tier.
type Config struct {
	Primary    BackendConfig `json:"primary" yaml:"primary" mapstructure:"primary"`
	Session    BackendConfig `json:"session" yaml:"session" mapstructure:"session"`
	BackupCopy BackendConfig `json:"backup_copy" yaml:"backup_copy" mapstructure:"backup_copy"`
	Disk       BackendConfig `json:"disk" yaml:"disk" mapstructure:"disk"`
	Remote     BackendConfig `json:"remote" yaml:"remote" mapstructure:"remote"`
}

// DefaultConfig keeps primary and backup copy in one badger directory, the session tier
// in memory and the indexed store in a sqlite file. The remote tier is disabled.
func DefaultConfig() *Config {
	return &Config{
		Primary:    BackendConfig{Driver: DriverBadger, Path: "data/keeper"},
		Session:    BackendConfig{Driver: DriverMemory},
		BackupCopy: BackendConfig{Driver: DriverBadger, Path: "data/keeper"},
		Disk:       BackendConfig{Driver: DriverSQLite, DSN: "data/keeper.db"},
	}
}

// Backend returns the configuration of t, or nil for an unknown tier.
func (c *Config) Backend(t keeper.Tier) *BackendConfig {
	switch t {
	case keeper.TierPrimary:
		return &c.Primary
	case keeper.TierSession:
		return &c.Session
	case keeper.TierBackupCopy:
		return &c.BackupCopy
	case keeper.TierDisk:
		return &c.Disk
	case keeper.TierRemote:
		return &c.Remote
	default:
		return nil
	}
}

// Enabled returns the configured tiers in read order.
func (c *Config) Enabled() []keeper.Tier {
	var out []keeper.Tier
	for _, t := range keeper.ReadOrder() {
		if c.Backend(t).Enabled() {
			out = append(out, t)
		}
	}
	return out
}

// ApplyDefaults fills the key prefix of every enabled tier.
func (c *Config) ApplyDefaults() {
	for _, t := range c.Enabled() {
		b := c.Backend(t)
		if b.Prefix == "" {
			b.Prefix = "keeper:" + string(t) + ":"
		}
	}
}

// Validate checks every backend.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("tier config is nil")
	}
	if len(c.Enabled()) == 0 {
		return keeper.ErrNoTiers
	}
	for _, t := range keeper.ReadOrder() {
		b := c.Backend(t)
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s tier: %w", t, err)
		}
		if b.Driver == DriverPostgres && !t.IsAsync() {
			return fmt.Errorf("%w: postgres serves only the disk and remote tiers, not %s", ErrDriverNotAllowed, t)
		}
	}
	return nil
}
