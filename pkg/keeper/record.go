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
	"strconv"
	"time"

	"go.uber.org/zap"
)

// recordFormat encodes, decodes, validates and migrates the records of one logical key.
type recordFormat[T any] struct {
	key       string
	version   int
	codec     Codec
	predicate Predicate[T]
	migrate   Migration[T]
}

// decoded is a record read back from a tier.
type decoded[T any] struct {
	value T
	meta  RecordMeta

	// outdated is set when the record was stored under another version and must be
	// rewritten at the current one.
	outdated bool
}

func (f *recordFormat[T]) encode(meta RecordMeta, value T) ([]byte, error) {
	return f.codec.EncodeRecord(meta, value)
}

// decode parses and validates raw bytes read from tier t. Every failure is a *CorruptionError.
func (f *recordFormat[T]) decode(t Tier, raw []byte) (decoded[T], error) {
	return f.decodeWith(t, raw, true)
}

// decodeLenient parses raw bytes without applying the predicate.
func (f *recordFormat[T]) decodeLenient(t Tier, raw []byte) (decoded[T], error) {
	return f.decodeWith(t, raw, false)
}

func (f *recordFormat[T]) decodeWith(t Tier, raw []byte, validate bool) (decoded[T], error) {
	var out decoded[T]
	meta, payload, err := f.codec.DecodeRecord(raw)
	if err != nil {
		return out, &CorruptionError{Key: f.key, Tier: t, Err: err}
	}
	out.meta = meta
	out.outdated = meta.Version != f.version

	if out.outdated && f.migrate != nil {
		v, err := f.migrate(RawData{codec: f.codec, bytes: payload}, meta.Version)
		if err != nil {
			return out, &CorruptionError{Key: f.key, Tier: t, Err: fmt.Errorf("migration from version %d failed: %w", meta.Version, err)}
		}
		out.value = v
	} else if err := f.codec.DecodeData(payload, &out.value); err != nil {
		return out, &CorruptionError{Key: f.key, Tier: t, Err: fmt.Errorf("failed to decode data: %w", err)}
	}

	if validate {
		if err := f.predicate(out.value); err != nil {
			return out, &CorruptionError{Key: f.key, Tier: t, Err: fmt.Errorf("stored data failed validation: %w", err)}
		}
	}
	return out, nil
}

func (f *recordFormat[T]) validate(value T) error {
	if err := f.predicate(value); err != nil {
		return &ValidationError{Key: f.key, Reason: err}
	}
	return nil
}

// clone returns a deep copy of value made through the codec.
func (f *recordFormat[T]) clone(value T) (T, error) {
	var out T
	b, err := f.codec.Marshal(value)
	if err != nil {
		return out, err
	}
	err = f.codec.Unmarshal(b, &out)
	return out, err
}

func newRecordFormat[T any](key string, cfg *Config[T]) (*recordFormat[T], error) {
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	return &recordFormat[T]{
		key:       key,
		version:   cfg.Version,
		codec:     codec,
		predicate: cfg.predicate(),
		migrate:   cfg.Migrate,
	}, nil
}

// Record keeps one logical key on one tier with version and validation enforcement.
// Only validated, current-version data is returned to callers; outdated records are
// migrated once and rewritten.
type Record[T any] struct {
	tier       Tier
	adapter    TierAdapter
	storageKey string
	format     *recordFormat[T]
	seed       func(ctx context.Context) (T, error)
	clock      func() time.Time
	logger     *zap.Logger

	createdAt time.Time
}

// NewRecord creates a Record for key on the given tier. Disk and remote tiers are
// bounded by cfg.AsyncTimeout.
func NewRecord[T any](key string, tier Tier, adapter TierAdapter, cfg Config[T]) (*Record[T], error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidConfig)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: adapter for tier %s is nil", ErrInvalidConfig, tier)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	format, err := newRecordFormat(key, &cfg)
	if err != nil {
		return nil, err
	}
	r := newRecord(tier, prepareAdapter(tier, adapter, &cfg), format, cfg.clock(), cfg.logger())
	r.seed = seedFor(format, &cfg)
	return r, nil
}

func newRecord[T any](tier Tier, adapter TierAdapter, format *recordFormat[T], clock func() time.Time, logger *zap.Logger) *Record[T] {
	return &Record[T]{
		tier:       tier,
		adapter:    adapter,
		storageKey: TierKey(tier, format.key),
		format:     format,
		clock:      clock,
		logger:     logger.With(zap.String("component", "record"), zap.String("key", format.key), zap.String("tier", string(tier))),
	}
}

// prepareAdapter applies the timeout and metrics decorators to an adapter.
func prepareAdapter[T any](tier Tier, adapter TierAdapter, cfg *Config[T]) TierAdapter {
	if tier.IsAsync() && cfg.AsyncTimeout > 0 {
		adapter = WithTimeout(tier, adapter, cfg.AsyncTimeout)
	}
	return cfg.Metrics.instrument(tier, adapter)
}

// seedFor returns a function producing a validated, independent copy of the seed value.
func seedFor[T any](format *recordFormat[T], cfg *Config[T]) func(ctx context.Context) (T, error) {
	seed := cfg.Seed
	def := cfg.Default
	return func(ctx context.Context) (T, error) {
		var (
			v   T
			err error
		)
		if seed != nil {
			v, err = seed(ctx)
			if err != nil {
				return v, fmt.Errorf("seed function failed: %w", err)
			}
		} else {
			v, err = format.clone(def)
			if err != nil {
				return v, fmt.Errorf("failed to copy default value: %w", err)
			}
		}
		if err := format.validate(v); err != nil {
			return v, fmt.Errorf("seed value rejected: %w", err)
		}
		return v, nil
	}
}

// Load returns the stored value.
//
// A missing record is replaced by the default, persisted, and the key marked initialized.
// An outdated record is migrated and persisted at the current version. A record that fails
// to decode or validate is reported as a *CorruptionError; it is never replaced silently.
func (r *Record[T]) Load(ctx context.Context) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	out, found, err := r.read(ctx)
	if err != nil {
		return out.value, err
	}

	if !found {
		v, err := r.seed(ctx)
		if err != nil {
			return v, err
		}
		if err := r.write(ctx, v); err != nil {
			return v, err
		}
		if err := r.markInitialized(ctx); err != nil {
			r.logger.Warn("failed to mark key initialized", zap.Error(err))
		}
		r.logger.Info("seeded missing record")
		return v, nil
	}

	if out.outdated {
		if err := r.write(ctx, out.value); err != nil {
			return out.value, err
		}
		r.logger.Info("migrated record",
			zap.Int("from_version", out.meta.Version),
			zap.Int("to_version", r.format.version),
		)
	}
	return out.value, nil
}

// Save validates data and writes it stamped with the current version.
func (r *Record[T]) Save(ctx context.Context, data T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.format.validate(data); err != nil {
		return err
	}
	if r.createdAt.IsZero() {
		if raw, found, err := r.adapter.Get(ctx, r.storageKey); err == nil && found {
			if meta, _, err := r.format.codec.DecodeRecord(raw); err == nil {
				r.createdAt = meta.CreatedAt
			}
		}
	}
	return r.write(ctx, data)
}

// LoadAsync runs Load in a goroutine.
func (r *Record[T]) LoadAsync(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := r.Load(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// SaveAsync runs Save in a goroutine.
func (r *Record[T]) SaveAsync(ctx context.Context, data T) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- r.Save(ctx, data)
	}()
	return ch
}

// read fetches and decodes the record. found is false when the tier has no entry.
func (r *Record[T]) read(ctx context.Context) (decoded[T], bool, error) {
	var out decoded[T]
	raw, found, err := r.adapter.Get(ctx, r.storageKey)
	if err != nil {
		return out, false, unavailable(r.tier, "get", err)
	}
	if !found {
		return out, false, nil
	}
	out, err = r.format.decode(r.tier, raw)
	if err != nil {
		return out, true, err
	}
	r.createdAt = out.meta.CreatedAt
	return out, true, nil
}

func (r *Record[T]) write(ctx context.Context, v T) error {
	now := r.clock()
	if r.createdAt.IsZero() {
		r.createdAt = now
	}
	b, err := r.format.encode(RecordMeta{
		ID:        r.format.key,
		Version:   r.format.version,
		CreatedAt: r.createdAt,
		UpdatedAt: now,
	}, v)
	if err != nil {
		return fmt.Errorf("failed to encode record %q: %w", r.format.key, err)
	}
	if err := r.adapter.Put(ctx, r.storageKey, b); err != nil {
		return unavailable(r.tier, "put", err)
	}
	if err := r.adapter.Put(ctx, r.format.key+versionSuffix, []byte(strconv.Itoa(r.format.version))); err != nil {
		return unavailable(r.tier, "put", err)
	}
	return nil
}

func (r *Record[T]) markInitialized(ctx context.Context) error {
	return markInitialized(ctx, r.tier, r.adapter, r.format.key)
}

func markInitialized(ctx context.Context, t Tier, adapter TierAdapter, key string) error {
	return unavailable(t, "put", adapter.Put(ctx, key+initializedSuffix, []byte("true")))
}

func isInitialized(ctx context.Context, t Tier, adapter TierAdapter, key string) (bool, error) {
	_, found, err := adapter.Get(ctx, key+initializedSuffix)
	if err != nil {
		return false, unavailable(t, "get", err)
	}
	return found, nil
}

// errMissingRecord is the cause recorded when an initialized key has no primary record.
var errMissingRecord = errors.New("record missing from an initialized key")
