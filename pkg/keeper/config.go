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

package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options holds the settings of one logical key that can come from configuration files.
type Options struct {
	// Version is the current record version. Records stored under another version are migrated.
	// Default: 1
	Version int `json:"version" yaml:"version" mapstructure:"version"`

	// Tiers lists the tiers the key is mirrored to. Default: primary, session, backup_copy.
	Tiers []Tier `json:"tiers" yaml:"tiers" mapstructure:"tiers"`

	// SecondaryTier is consulted during recovery after backups. Default: session.
	SecondaryTier Tier `json:"secondary_tier" yaml:"secondary_tier" mapstructure:"secondary_tier"`

	// BackupTier holds the backup ring. Default: the first configured tier.
	BackupTier Tier `json:"backup_tier" yaml:"backup_tier" mapstructure:"backup_tier"`

	// BackupPrefix namespaces backup keys. Default: the logical key.
	BackupPrefix string `json:"backup_prefix" yaml:"backup_prefix" mapstructure:"backup_prefix"`

	// MaxBackups bounds the backup ring. Default: 10
	MaxBackups int `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`

	// EmergencyBackupDepth is how many recent backups emergency recovery scavenges. Default: 5
	EmergencyBackupDepth int `json:"emergency_backup_depth" yaml:"emergency_backup_depth" mapstructure:"emergency_backup_depth"`

	// AsyncTimeout bounds every operation on the disk and remote tiers. Default: 5 seconds
	AsyncTimeout time.Duration `json:"async_timeout" yaml:"async_timeout" mapstructure:"async_timeout"`

	// StrictWrites propagates any single tier write failure from Save.
	// When false, Save fails only if no tier accepted the write.
	StrictWrites bool `json:"strict_writes" yaml:"strict_writes" mapstructure:"strict_writes"`

	// ConflictCheck makes Save fail with ErrConflict when the stored record changed
	// since this process last observed it.
	ConflictCheck bool `json:"conflict_check" yaml:"conflict_check" mapstructure:"conflict_check"`

	// Codec selects the record encoding (json, msgpack). Default: json
	Codec string `json:"codec" yaml:"codec" mapstructure:"codec"`

	// Compression selects backup snapshot compression (none, snappy, zstd, lz4). Default: none
	Compression string `json:"compression" yaml:"compression" mapstructure:"compression"`
}

// DefaultOptions returns Options with the default values applied.
func DefaultOptions() Options {
	return Options{
		Version:              1,
		Tiers:                append([]Tier(nil), DefaultTiers...),
		SecondaryTier:        TierSession,
		MaxBackups:           10,
		EmergencyBackupDepth: 5,
		AsyncTimeout:         5 * time.Second,
		Codec:                CodecJSON,
		Compression:          CompressionNone,
	}
}

// Merge fills zero-valued fields of o from d.
func (o Options) Merge(d Options) Options {
	if o.Version == 0 {
		o.Version = d.Version
	}
	if len(o.Tiers) == 0 {
		o.Tiers = append([]Tier(nil), d.Tiers...)
	}
	if o.SecondaryTier == "" {
		o.SecondaryTier = d.SecondaryTier
	}
	if o.BackupTier == "" {
		o.BackupTier = d.BackupTier
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = d.MaxBackups
	}
	if o.EmergencyBackupDepth == 0 {
		o.EmergencyBackupDepth = d.EmergencyBackupDepth
	}
	if o.AsyncTimeout == 0 {
		o.AsyncTimeout = d.AsyncTimeout
	}
	if o.Codec == "" {
		o.Codec = d.Codec
	}
	if o.Compression == "" {
		o.Compression = d.Compression
	}
	o.StrictWrites = o.StrictWrites || d.StrictWrites
	o.ConflictCheck = o.ConflictCheck || d.ConflictCheck
	return o
}

// Validate checks the options and applies defaults for unset values.
func (o *Options) Validate() error {
	if o == nil {
		return errors.New("options are nil")
	}
	if o.Version < 0 {
		return errors.New("version cannot be negative")
	}
	if o.MaxBackups < 0 {
		return errors.New("max backups cannot be negative")
	}
	if o.AsyncTimeout < 0 {
		return errors.New("async timeout cannot be negative")
	}
	for _, t := range o.Tiers {
		if !t.Valid() {
			return fmt.Errorf("unknown tier %q", t)
		}
	}
	if o.SecondaryTier != "" && !o.SecondaryTier.Valid() {
		return fmt.Errorf("unknown secondary tier %q", o.SecondaryTier)
	}
	if o.BackupTier != "" && !o.BackupTier.Valid() {
		return fmt.Errorf("unknown backup tier %q", o.BackupTier)
	}

	*o = o.Merge(DefaultOptions())
	return nil
}

// Migration converts a payload stored under oldVersion into the current shape.
type Migration[T any] func(old RawData, oldVersion int) (T, error)

// SeedFunc produces the value a key is populated with when no valid data exists.
type SeedFunc[T any] func(ctx context.Context) (T, error)

// Config configures a Record or Store for one logical key.
type Config[T any] struct {
	Options

	// Default is the static seed used when Seed is nil.
	Default T

	// Seed generates the seed value. It takes precedence over Default.
	Seed SeedFunc[T]

	// Predicate validates every value before it is stored or returned. Default: NotNil.
	Predicate Predicate[T]

	// Migrate upgrades records stored under an older version.
	Migrate Migration[T]

	// Trail receives recovery events. Optional.
	Trail *Trail

	// Metrics records operation metrics. Optional.
	Metrics *Metrics

	// Logger is the structured logger. If nil, a no-op logger is used.
	Logger *zap.Logger

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

func (c *Config[T]) predicate() Predicate[T] {
	if c.Predicate == nil {
		return NotNil[T]()
	}
	return c.Predicate
}

func (c *Config[T]) clock() func() time.Time {
	if c.Clock == nil {
		return time.Now
	}
	return c.Clock
}

func (c *Config[T]) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
