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
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegistryConfig holds what every key of a Registry shares.
type RegistryConfig struct {
	// Adapters are the opened tiers.
	Adapters map[Tier]TierAdapter

	// Defaults fill unset per-key options.
	Defaults Options

	// TrailTier holds the recovery trail. Default: primary, or the first opened tier.
	TrailTier Tier

	// TrailKey is the storage key of the recovery trail. Default: keeper_recovery_log
	TrailKey string

	// MaxRecoveryEvents bounds the trail. Default: 50
	MaxRecoveryEvents int

	Metrics *Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Registry owns the Store of every logical key in a process, so each key has exactly
// one manager and one lock.
type Registry struct {
	config RegistryConfig
	trail  *Trail
	logger *zap.Logger

	mu     sync.Mutex
	stores map[string]registeredStore
}

type registeredStore struct {
	store  any
	target Target
}

// NewRegistry creates a Registry over opened tiers.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if len(config.Adapters) == 0 {
		return nil, ErrNoTiers
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	config.Defaults = config.Defaults.Merge(DefaultOptions())

	trailTier := config.TrailTier
	if trailTier == "" {
		for _, t := range readOrder {
			if config.Adapters[t] != nil {
				trailTier = t
				break
			}
		}
	}
	trailAdapter := config.Adapters[trailTier]
	if trailAdapter == nil {
		return nil, fmt.Errorf("%w: trail tier %s is not opened", ErrInvalidConfig, trailTier)
	}
	trailAdapter = config.Metrics.instrument(trailTier, trailAdapter)
	if trailTier.IsAsync() {
		trailAdapter = WithTimeout(trailTier, trailAdapter, config.Defaults.AsyncTimeout)
	}

	return &Registry{
		config: config,
		trail: NewTrail(trailTier, trailAdapter,
			WithTrailKey(config.TrailKey),
			WithTrailLimit(config.MaxRecoveryEvents),
			WithTrailClock(config.Clock),
			WithTrailLogger(config.Logger),
		),
		logger: config.Logger.With(zap.String("component", "registry")),
		stores: make(map[string]registeredStore),
	}, nil
}

// Register returns the Store of key, creating it from cfg on first use. Registering
// an existing key with another value type fails with ErrTypeMismatch; the first
// registration's configuration wins.
func Register[T any](r *Registry, key string, cfg Config[T]) (*Store[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.stores[key]; ok {
		s, ok := existing.store.(*Store[T])
		if !ok {
			return nil, fmt.Errorf("%w: %q holds %T", ErrTypeMismatch, key, existing.store)
		}
		return s, nil
	}

	cfg.Options = cfg.Options.Merge(r.config.Defaults)
	if cfg.Trail == nil {
		cfg.Trail = r.trail
	}
	if cfg.Metrics == nil {
		cfg.Metrics = r.config.Metrics
	}
	if cfg.Logger == nil {
		cfg.Logger = r.config.Logger
	}
	if cfg.Clock == nil {
		cfg.Clock = r.config.Clock
	}

	s, err := NewStore(key, r.config.Adapters, cfg)
	if err != nil {
		return nil, err
	}
	r.stores[key] = registeredStore{store: s, target: s}
	r.logger.Info("registered key", zap.String("key", key), zap.Any("tiers", s.Tiers()))
	return s, nil
}

// Lookup returns the Store of a registered key.
func Lookup[T any](r *Registry, key string) (*Store[T], bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.stores[key]
	if !ok {
		return nil, false, nil
	}
	s, ok := existing.store.(*Store[T])
	if !ok {
		return nil, true, fmt.Errorf("%w: %q holds %T", ErrTypeMismatch, key, existing.store)
	}
	return s, true, nil
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.stores))
	for k := range r.stores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Targets returns every registered key as a monitor target.
func (r *Registry) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s.target)
	}
	return out
}

// Trail returns the shared recovery trail.
func (r *Registry) Trail() *Trail {
	return r.trail
}
