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
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecoveryState is the position of a key in the recovery state machine.
type RecoveryState string

const (
	StateHealthy                RecoveryState = "healthy"
	StateCorrupt                RecoveryState = "corrupt"
	StateRecovering             RecoveryState = "recovering"
	StateRecoveredFromBackup    RecoveryState = "recovered_from_backup"
	StateRecoveredFromSecondary RecoveryState = "recovered_from_secondary"
	StateRecoveredViaReseed     RecoveryState = "recovered_via_reseed"
)

// StateTransition describes one move of the recovery state machine.
type StateTransition struct {
	Key       string
	From      RecoveryState
	To        RecoveryState
	Cause     error
	Timestamp time.Time
}

// StateListener is invoked synchronously on every transition while the store is locked.
// Listeners must not call back into the store.
type StateListener func(StateTransition)

var (
	errNoBackups     = errors.New("no backups available")
	errNoValidBackup = errors.New("no backup holds valid data")
	errNoSecondary   = errors.New("no secondary tier configured")
)

// RecoveryManager snapshots a key into its backup ring and restores it when the
// authoritative copy is corrupt or missing. Recovery tries, in order: backups newest
// first, the secondary tier, then the seed value.
type RecoveryManager[T any] struct {
	store  *Store[T]
	ring   *backupRing
	logger *zap.Logger

	stateMu   sync.RWMutex
	state     RecoveryState
	listeners []StateListener
}

func newRecoveryManager[T any](s *Store[T], ring *backupRing) *RecoveryManager[T] {
	return &RecoveryManager[T]{
		store:  s,
		ring:   ring,
		logger: s.logger.With(zap.String("component", "recovery_manager")),
		state:  StateHealthy,
	}
}

// State returns the current recovery state.
func (rm *RecoveryManager[T]) State() RecoveryState {
	rm.stateMu.RLock()
	defer rm.stateMu.RUnlock()
	return rm.state
}

// OnStateChange registers a listener for state transitions.
func (rm *RecoveryManager[T]) OnStateChange(listener StateListener) {
	if listener == nil {
		return
	}
	rm.stateMu.Lock()
	defer rm.stateMu.Unlock()
	rm.listeners = append(rm.listeners, listener)
}

// Recover runs the recovery sequence regardless of the stored data's health.
func (rm *RecoveryManager[T]) Recover(ctx context.Context) (T, RecoverySource, error) {
	rm.store.mu.Lock()
	defer rm.store.mu.Unlock()
	return rm.recover(ctx, errors.New("recovery requested"))
}

// CreateBackup snapshots the authoritative and secondary tiers into the backup ring.
// It returns ErrNothingToBackup if neither holds a valid value.
func (rm *RecoveryManager[T]) CreateBackup(ctx context.Context, reason string) (*BackupEntry, error) {
	rm.store.mu.Lock()
	defer rm.store.mu.Unlock()
	return rm.createBackup(ctx, reason)
}

// Backups lists the backup ring, newest first.
func (rm *RecoveryManager[T]) Backups(ctx context.Context) ([]BackupEntry, error) {
	rm.store.mu.Lock()
	defer rm.store.mu.Unlock()
	return rm.ring.list(ctx)
}

// RestoreFromBackup writes the value held by backupKey to every tier. The current
// state is backed up first with reason "before_restore".
func (rm *RecoveryManager[T]) RestoreFromBackup(ctx context.Context, backupKey string) error {
	rm.store.mu.Lock()
	defer rm.store.mu.Unlock()
	return rm.restore(ctx, backupKey)
}

// ClearBackups removes every backup of the key.
func (rm *RecoveryManager[T]) ClearBackups(ctx context.Context) error {
	rm.store.mu.Lock()
	defer rm.store.mu.Unlock()
	return rm.ring.clear(ctx)
}

// recover must be called with the store lock held.
func (rm *RecoveryManager[T]) recover(ctx context.Context, cause error) (T, RecoverySource, error) {
	s := rm.store
	ctx, span := startSpan(ctx, "keeper.Recovery.Recover", s.key)

	rm.logger.Warn("recovering key", zap.String("key", s.key), zap.Error(cause))
	rm.transition(StateCorrupt, cause)
	rm.transition(StateRecovering, nil)

	attempts := make(map[RecoverySource]error, 3)

	v, backupKey, err := rm.fromBackups(ctx)
	if err == nil {
		rm.finish(ctx, v, SourceBackup, StateRecoveredFromBackup, "restored from "+backupKey)
		endSpan(span, nil)
		return v, SourceBackup, nil
	}
	attempts[SourceBackup] = err
	rm.logger.Debug("backups unusable", zap.String("key", s.key), zap.Error(err))

	v, err = rm.fromSecondary(ctx)
	if err == nil {
		rm.finish(ctx, v, SourceSecondaryTier, StateRecoveredFromSecondary, "restored from tier "+string(s.secondary))
		endSpan(span, nil)
		return v, SourceSecondaryTier, nil
	}
	attempts[SourceSecondaryTier] = err
	rm.logger.Debug("secondary tier unusable", zap.String("key", s.key), zap.Error(err))

	v, err = s.seed(ctx)
	if err == nil {
		rm.finish(ctx, v, SourceDefaultReseed, StateRecoveredViaReseed, "reseeded")
		endSpan(span, nil)
		return v, SourceDefaultReseed, nil
	}
	attempts[SourceDefaultReseed] = err

	exhausted := &RecoveryExhaustedError{Key: s.key, Attempts: attempts}
	rm.logger.Error("recovery exhausted", zap.String("key", s.key), zap.Error(exhausted))
	s.metrics.recordRecoveryFailure(s.key)
	s.trail.record(ctx, RecoveryEvent{
		Key:    s.key,
		Source: SourceNone,
		Detail: cause.Error(),
		Error:  exhausted.Error(),
	})
	rm.transition(StateCorrupt, exhausted)
	endSpan(span, exhausted)
	var zero T
	return zero, SourceNone, exhausted
}

// finish persists a recovered value and returns the machine to healthy. Write
// failures are logged; the recovered value is still served from memory.
func (rm *RecoveryManager[T]) finish(ctx context.Context, v T, source RecoverySource, state RecoveryState, detail string) {
	s := rm.store
	if err := s.writeAll(ctx, v); err != nil {
		rm.logger.Warn("failed to persist recovered value", zap.String("key", s.key), zap.Error(err))
		s.remember(v, s.createdAt, s.clock())
	}
	s.markInitialized(ctx)
	s.metrics.recordRecovery(s.key, source)
	s.trail.record(ctx, RecoveryEvent{Key: s.key, Source: source, Detail: detail})
	rm.logger.Info("recovered key",
		zap.String("key", s.key),
		zap.String("source", string(source)),
		zap.String("detail", detail),
	)
	rm.transition(state, nil)
	rm.transition(StateHealthy, nil)
}

// healedAnchor records that the missing authoritative copy was rebuilt from tier
// during a load. The store lock must be held.
func (rm *RecoveryManager[T]) healedAnchor(ctx context.Context, from Tier) {
	s := rm.store
	rm.transition(StateCorrupt, &CorruptionError{Key: s.key, Tier: s.anchor, Err: errMissingRecord})
	rm.transition(StateRecovering, nil)
	s.metrics.recordRecovery(s.key, SourceSecondaryTier)
	s.trail.record(ctx, RecoveryEvent{Key: s.key, Source: SourceSecondaryTier, Detail: "rebuilt missing " + string(s.anchor) + " from tier " + string(from)})
	rm.logger.Info("rebuilt missing authoritative copy", zap.String("key", s.key), zap.String("tier", string(from)))
	rm.transition(StateRecoveredFromSecondary, nil)
	rm.transition(StateHealthy, nil)
}

func (rm *RecoveryManager[T]) fromBackups(ctx context.Context) (T, string, error) {
	var zero T
	keys, err := rm.ring.keys(ctx)
	if err != nil {
		return zero, "", err
	}
	if len(keys) == 0 {
		return zero, "", errNoBackups
	}
	for _, k := range keys {
		entry, err := rm.ring.load(ctx, k)
		if err != nil {
			rm.logger.Warn("skipping unreadable backup", zap.String("backup_key", k), zap.Error(err))
			continue
		}
		if v, err := rm.entryValue(entry); err == nil {
			return v, k, nil
		}
	}
	return zero, "", errNoValidBackup
}

func (rm *RecoveryManager[T]) fromSecondary(ctx context.Context) (T, error) {
	var zero T
	s := rm.store
	if s.secondary == "" {
		return zero, errNoSecondary
	}
	raw, found, err := s.adapters[s.secondary].Get(ctx, TierKey(s.secondary, s.key))
	if err != nil {
		return zero, unavailable(s.secondary, "get", err)
	}
	if !found {
		return zero, fmt.Errorf("tier %s holds no data", s.secondary)
	}
	out, err := s.format.decode(s.secondary, raw)
	if err != nil {
		return zero, err
	}
	s.createdAt = out.meta.CreatedAt
	return out.value, nil
}

// entryValue returns the first valid value held by a backup entry.
func (rm *RecoveryManager[T]) entryValue(entry *BackupEntry) (T, error) {
	s := rm.store
	var errs []error
	if len(entry.Snapshot) > 0 {
		out, err := s.format.decode(entry.TierOrigin, entry.Snapshot)
		if err == nil {
			return out.value, nil
		}
		errs = append(errs, err)
	}
	if len(entry.Secondary) > 0 {
		out, err := s.format.decode(entry.SecondaryOrigin, entry.Secondary)
		if err == nil {
			return out.value, nil
		}
		errs = append(errs, err)
	}
	var zero T
	if len(errs) == 0 {
		return zero, fmt.Errorf("backup %s is empty", entry.Key)
	}
	return zero, errors.Join(errs...)
}

// createBackup must be called with the store lock held.
func (rm *RecoveryManager[T]) createBackup(ctx context.Context, reason string) (*BackupEntry, error) {
	s := rm.store
	entry := &BackupEntry{
		LogicalKey: s.key,
		Timestamp:  s.clock().UTC(),
		Reason:     reason,
	}
	if raw, ok := s.validRaw(ctx, s.anchor); ok {
		entry.Snapshot = raw
		entry.TierOrigin = s.anchor
	}
	if s.secondary != "" {
		if raw, ok := s.validRaw(ctx, s.secondary); ok {
			entry.Secondary = raw
			entry.SecondaryOrigin = s.secondary
		}
	}

	var err error
	if entry.Snapshot == nil && entry.Secondary == nil {
		err = fmt.Errorf("%w for %q", ErrNothingToBackup, s.key)
	} else {
		err = rm.ring.add(ctx, entry)
	}
	s.metrics.recordBackup(s.key, err)
	if err != nil {
		return nil, err
	}
	rm.logger.Debug("created backup",
		zap.String("key", s.key),
		zap.String("backup_key", entry.Key),
		zap.String("reason", reason),
	)
	return entry, nil
}

// restore must be called with the store lock held.
func (rm *RecoveryManager[T]) restore(ctx context.Context, backupKey string) error {
	s := rm.store
	entry, err := rm.ring.load(ctx, backupKey)
	if err != nil {
		return err
	}
	v, err := rm.entryValue(entry)
	if err != nil {
		return &CorruptionError{Key: s.key, Tier: rm.ring.tier, Err: fmt.Errorf("backup %s: %w", backupKey, err)}
	}

	if _, err := rm.createBackup(ctx, "before_restore"); err != nil {
		rm.logger.Warn("failed to back up before restore", zap.String("key", s.key), zap.Error(err))
	}
	if err := s.writeAll(ctx, v); err != nil {
		return err
	}
	s.markInitialized(ctx)
	s.trail.record(ctx, RecoveryEvent{Key: s.key, Source: SourceManualRestore, Detail: "restored from " + backupKey})
	rm.logger.Info("restored key from backup", zap.String("key", s.key), zap.String("backup_key", backupKey))
	return nil
}

func (rm *RecoveryManager[T]) transition(to RecoveryState, cause error) {
	rm.stateMu.Lock()
	from := rm.state
	rm.state = to
	listeners := make([]StateListener, len(rm.listeners))
	copy(listeners, rm.listeners)
	rm.stateMu.Unlock()

	if from == to {
		return
	}
	t := StateTransition{Key: rm.store.key, From: from, To: to, Cause: cause, Timestamp: rm.store.clock()}
	for _, l := range listeners {
		rm.notify(l, t)
	}
}

func (rm *RecoveryManager[T]) notify(l StateListener, t StateTransition) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("state listener panic",
				zap.String("key", t.Key),
				zap.Any("panic", r),
			)
		}
	}()
	l(t)
}
