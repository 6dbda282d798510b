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
	"slices"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Store mirrors one logical key across several tiers and keeps it readable.
//
// Load reads tiers in priority order (primary, session, backup_copy, disk, remote) and
// returns the first valid copy, healing tiers found empty or corrupt on the way. A corrupt
// primary triggers the RecoveryManager; a primary missing from an initialized key is
// rebuilt from the first valid lower tier, and recovered only when none holds one.
// Save validates first and then writes identical payloads to every tier. Operations on
// one Store are serialized.
type Store[T any] struct {
	key       string
	opts      Options
	format    *recordFormat[T]
	tiers     []Tier
	adapters  map[Tier]TierAdapter
	anchor    Tier
	secondary Tier
	seed      func(ctx context.Context) (T, error)
	clock     func() time.Time
	logger    *zap.Logger
	metrics   *Metrics
	trail     *Trail
	recovery  *RecoveryManager[T]

	mu          sync.Mutex
	cache       *T
	createdAt   time.Time
	observed    time.Time
	initialized bool
}

// NewStore creates a Store for key over the given adapters. Every tier named in
// cfg.Tiers must have an adapter.
func NewStore[T any](key string, adapters map[Tier]TierAdapter, cfg Config[T]) (*Store[T], error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidConfig)
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	format, err := newRecordFormat(key, &cfg)
	if err != nil {
		return nil, err
	}
	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	s := &Store[T]{
		key:      key,
		opts:     cfg.Options,
		format:   format,
		adapters: make(map[Tier]TierAdapter, len(cfg.Tiers)),
		seed:     seedFor(format, &cfg),
		clock:    cfg.clock(),
		logger:   cfg.logger().With(zap.String("component", "store"), zap.String("key", key)),
		metrics:  cfg.Metrics,
		trail:    cfg.Trail,
	}

	for _, t := range readOrder {
		if !slices.Contains(cfg.Tiers, t) {
			continue
		}
		adapter := adapters[t]
		if adapter == nil {
			return nil, fmt.Errorf("%w: no adapter for tier %s", ErrInvalidConfig, t)
		}
		s.tiers = append(s.tiers, t)
		s.adapters[t] = prepareAdapter(t, adapter, &cfg)
	}
	if len(s.tiers) == 0 {
		return nil, ErrNoTiers
	}
	s.anchor = s.tiers[0]

	switch {
	case cfg.SecondaryTier != s.anchor && slices.Contains(s.tiers, cfg.SecondaryTier):
		s.secondary = cfg.SecondaryTier
	case len(s.tiers) > 1:
		s.secondary = s.tiers[1]
	}

	backupTier := s.anchor
	if cfg.BackupTier != "" {
		if !slices.Contains(s.tiers, cfg.BackupTier) {
			return nil, fmt.Errorf("%w: backup tier %s is not configured for %q", ErrInvalidConfig, cfg.BackupTier, key)
		}
		backupTier = cfg.BackupTier
	}
	prefix := cfg.BackupPrefix
	if prefix == "" {
		prefix = key
	}
	ring := &backupRing{
		tier:       backupTier,
		adapter:    s.adapters[backupTier],
		prefix:     prefix,
		max:        cfg.MaxBackups,
		compressor: compressor,
		logger:     s.logger,
	}
	s.recovery = newRecoveryManager(s, ring)
	return s, nil
}

// Key returns the logical key.
func (s *Store[T]) Key() string {
	return s.key
}

// Tiers returns the configured tiers in read order.
func (s *Store[T]) Tiers() []Tier {
	return slices.Clone(s.tiers)
}

// Options returns the effective options.
func (s *Store[T]) Options() Options {
	return s.opts
}

// Recovery returns the recovery manager of the key.
func (s *Store[T]) Recovery() *RecoveryManager[T] {
	return s.recovery
}

// State returns the recovery state of the key.
func (s *Store[T]) State() RecoveryState {
	return s.recovery.State()
}

// Load returns the current valid value, recovering or seeding it when necessary.
func (s *Store[T]) Load(ctx context.Context) (v T, err error) {
	ctx, span := startSpan(ctx, "keeper.Store.Load", s.key)
	defer func() { endSpan(span, err) }()
	if err = ctx.Err(); err != nil {
		return v, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save validates data and writes it to every tier. Nothing is written if validation fails.
// A failed tier write is logged and shows in GetDataHealth, but Save returns an error only
// when every tier failed, unless Options.StrictWrites is set, in which case any tier
// failure is returned. Tiers already written are not rolled back.
func (s *Store[T]) Save(ctx context.Context, data T) (err error) {
	ctx, span := startSpan(ctx, "keeper.Store.Save", s.key)
	defer func() { endSpan(span, err) }()
	if err = ctx.Err(); err != nil {
		return err
	}

	if err = s.format.validate(data); err != nil {
		s.metrics.recordValidationFailure(s.key)
		s.logger.Debug("rejected invalid data", zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ConflictCheck {
		if err = s.checkConflict(ctx); err != nil {
			return err
		}
	}
	if err = s.writeAll(ctx, data); err != nil {
		return err
	}
	s.markInitialized(ctx)
	return nil
}

// LoadAsync runs Load in a goroutine.
func (s *Store[T]) LoadAsync(ctx context.Context) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := s.Load(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// SaveAsync runs Save in a goroutine.
func (s *Store[T]) SaveAsync(ctx context.Context, data T) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- s.Save(ctx, data)
	}()
	return ch
}

// ForceReseed overwrites every tier with the seed value.
func (s *Store[T]) ForceReseed(ctx context.Context) (v T, err error) {
	ctx, span := startSpan(ctx, "keeper.Store.ForceReseed", s.key)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err = s.seed(ctx)
	if err != nil {
		return v, err
	}
	s.createdAt = time.Time{}
	if err = s.writeAll(ctx, v); err != nil {
		return v, err
	}
	s.markInitialized(ctx)
	s.logger.Info("reseeded key")
	return v, nil
}

// ClearAllData removes the key from every tier together with its markers. Backups and
// the recovery trail are kept. Clearing an absent key succeeds.
func (s *Store[T]) ClearAllData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, t := range s.tiers {
		if err := s.adapters[t].Delete(ctx, TierKey(t, s.key)); err != nil {
			errs = append(errs, unavailable(t, "delete", err))
		}
	}
	anchor := s.adapters[s.anchor]
	for _, marker := range []string{s.key + versionSuffix, s.key + initializedSuffix} {
		if err := anchor.Delete(ctx, marker); err != nil {
			errs = append(errs, unavailable(s.anchor, "delete", err))
		}
	}

	s.cache = nil
	s.createdAt = time.Time{}
	s.observed = time.Time{}
	s.initialized = false
	s.logger.Info("cleared key data")
	return errors.Join(errs...)
}

// GetDataHealth reports, per tier, whether a copy of the key is present. Presence
// says nothing about validity; unreadable tiers report false. The memory tier
// reports whether a value is cached in this process.
func (s *Store[T]) GetDataHealth(ctx context.Context) map[Tier]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := make(map[Tier]bool, len(s.tiers)+1)
	for _, t := range s.tiers {
		_, found, err := s.adapters[t].Get(ctx, TierKey(t, s.key))
		health[t] = err == nil && found
	}
	health[TierMemory] = s.cache != nil
	return health
}

// GetRecoveryHistory returns the recovery events recorded for this key, oldest first.
func (s *Store[T]) GetRecoveryHistory(ctx context.Context) ([]RecoveryEvent, error) {
	if s.trail == nil {
		return []RecoveryEvent{}, nil
	}
	return s.trail.EventsFor(ctx, s.key)
}

// CreateBackup snapshots the key. See RecoveryManager.CreateBackup.
func (s *Store[T]) CreateBackup(ctx context.Context, reason string) (*BackupEntry, error) {
	return s.recovery.CreateBackup(ctx, reason)
}

// Backups lists the backups of the key, newest first.
func (s *Store[T]) Backups(ctx context.Context) ([]BackupEntry, error) {
	return s.recovery.Backups(ctx)
}

// RestoreFromBackup restores the key from a named backup. See RecoveryManager.RestoreFromBackup.
func (s *Store[T]) RestoreFromBackup(ctx context.Context, backupKey string) error {
	return s.recovery.RestoreFromBackup(ctx, backupKey)
}

func (s *Store[T]) load(ctx context.Context) (T, error) {
	var (
		stale   []Tier
		failed  int
		winner  decoded[T]
		raw     []byte
		winTier Tier
		lost    bool
	)

scan:
	for _, t := range s.tiers {
		b, found, err := s.adapters[t].Get(ctx, TierKey(t, s.key))
		switch {
		case err != nil:
			failed++
			s.logger.Warn("tier read failed", zap.String("tier", string(t)), zap.Error(err))
			continue
		case !found:
			if t == s.anchor && s.wasInitialized(ctx) {
				lost = true
			}
			stale = append(stale, t)
			continue
		}

		out, err := s.format.decode(t, b)
		if err != nil {
			if t == s.anchor {
				v, _, rerr := s.recovery.recover(ctx, err)
				return v, rerr
			}
			s.logger.Warn("ignoring corrupt tier", zap.String("tier", string(t)), zap.Error(err))
			stale = append(stale, t)
			continue
		}
		winner, raw, winTier = out, b, t
		break scan
	}

	if winTier == "" && lost {
		v, _, err := s.recovery.recover(ctx, &CorruptionError{Key: s.key, Tier: s.anchor, Err: errMissingRecord})
		return v, err
	}
	if lost {
		defer s.recovery.healedAnchor(ctx, winTier)
	}

	if winTier == "" {
		if failed > 0 && s.cache != nil {
			s.logger.Warn("no tier readable, serving cached value")
			return *s.cache, nil
		}
		return s.seedLocked(ctx, failed)
	}

	s.createdAt = winner.meta.CreatedAt
	if winner.outdated {
		if err := s.writeAll(ctx, winner.value); err != nil {
			s.logger.Warn("failed to persist migrated record", zap.Error(err))
		}
		s.logger.Info("migrated record",
			zap.Int("from_version", winner.meta.Version),
			zap.Int("to_version", s.format.version),
			zap.String("tier", string(winTier)),
		)
		s.markInitialized(ctx)
		return winner.value, nil
	}

	s.heal(ctx, stale, raw)
	s.remember(winner.value, winner.meta.CreatedAt, winner.meta.UpdatedAt)
	s.markInitialized(ctx)
	return winner.value, nil
}

// seedLocked populates an empty key with the seed value. Tier failures are tolerated
// unless StrictWrites is set, so the value is still served from memory.
func (s *Store[T]) seedLocked(ctx context.Context, failedTiers int) (T, error) {
	v, err := s.seed(ctx)
	if err != nil {
		return v, err
	}
	s.createdAt = time.Time{}
	if err := s.writeAll(ctx, v); err != nil {
		if s.opts.StrictWrites {
			return v, err
		}
		s.logger.Warn("seed value not persisted", zap.Int("failed_tiers", failedTiers), zap.Error(err))
		s.remember(v, s.clock(), s.clock())
		return v, nil
	}
	s.markInitialized(ctx)
	s.logger.Info("seeded key")
	return v, nil
}

// heal copies raw to tiers that were found empty or corrupt.
func (s *Store[T]) heal(ctx context.Context, tiers []Tier, raw []byte) {
	for _, t := range tiers {
		if err := s.adapters[t].Put(ctx, TierKey(t, s.key), raw); err != nil {
			s.logger.Debug("failed to heal tier", zap.String("tier", string(t)), zap.Error(err))
			continue
		}
		s.logger.Debug("healed tier", zap.String("tier", string(t)))
	}
}

// writeAll encodes v once and writes it to every tier.
func (s *Store[T]) writeAll(ctx context.Context, v T) error {
	ctx, span := startSpan(ctx, "keeper.Store.writeAll", s.key, attribute.Int("keeper.tiers", len(s.tiers)))

	now := s.clock()
	created := s.createdAt
	if created.IsZero() {
		created = now
	}
	b, err := s.format.encode(RecordMeta{
		ID:        s.key,
		Version:   s.format.version,
		CreatedAt: created,
		UpdatedAt: now,
	}, v)
	if err != nil {
		err = fmt.Errorf("failed to encode record %q: %w", s.key, err)
		endSpan(span, err)
		return err
	}

	var errs []error
	written := 0
	for _, t := range s.tiers {
		if err := s.adapters[t].Put(ctx, TierKey(t, s.key), b); err != nil {
			s.logger.Warn("tier write failed", zap.String("tier", string(t)), zap.Error(err))
			errs = append(errs, unavailable(t, "put", err))
			continue
		}
		written++
	}

	if written > 0 {
		if err := s.adapters[s.anchor].Put(ctx, s.key+versionSuffix, []byte(strconv.Itoa(s.format.version))); err != nil {
			s.logger.Debug("failed to write version marker", zap.Error(err))
		}
		s.remember(v, created, now)
	}

	if len(errs) == 0 {
		endSpan(span, nil)
		return nil
	}
	err = errors.Join(errs...)
	endSpan(span, err)
	if written == 0 || s.opts.StrictWrites {
		return err
	}
	s.logger.Warn("partial write", zap.Int("written", written), zap.Int("failed", len(errs)))
	return nil
}

func (s *Store[T]) remember(v T, created, updated time.Time) {
	s.cache = &v
	s.createdAt = created
	s.observed = updated.Round(0)
}

func (s *Store[T]) markInitialized(ctx context.Context) {
	if s.initialized {
		return
	}
	if err := markInitialized(ctx, s.anchor, s.adapters[s.anchor], s.key); err != nil {
		s.logger.Debug("failed to write initialized marker", zap.Error(err))
		return
	}
	s.initialized = true
}

func (s *Store[T]) wasInitialized(ctx context.Context) bool {
	ok, err := isInitialized(ctx, s.anchor, s.adapters[s.anchor], s.key)
	if err != nil {
		s.logger.Debug("failed to read initialized marker", zap.Error(err))
		return false
	}
	return ok
}

// validRaw returns the bytes stored on tier t if they decode and validate.
func (s *Store[T]) validRaw(ctx context.Context, t Tier) ([]byte, bool) {
	raw, found, err := s.adapters[t].Get(ctx, TierKey(t, s.key))
	if err != nil || !found {
		return nil, false
	}
	if _, err := s.format.decode(t, raw); err != nil {
		return nil, false
	}
	return raw, true
}

// checkConflict fails when the authoritative record was updated after this process
// last observed it.
func (s *Store[T]) checkConflict(ctx context.Context) error {
	if s.observed.IsZero() {
		return nil
	}
	raw, found, err := s.adapters[s.anchor].Get(ctx, TierKey(s.anchor, s.key))
	if err != nil || !found {
		return nil
	}
	meta, _, err := s.format.codec.DecodeRecord(raw)
	if err != nil {
		return nil
	}
	if meta.UpdatedAt.After(s.observed) {
		return fmt.Errorf("%w: %q updated at %s, last observed %s",
			ErrConflict, s.key, meta.UpdatedAt.Format(time.RFC3339Nano), s.observed.Format(time.RFC3339Nano))
	}
	return nil
}
