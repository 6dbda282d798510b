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

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/innovationmech/keeper/internal/keeper/config"
	"github.com/innovationmech/keeper/pkg/keeper"
	"github.com/innovationmech/keeper/pkg/keeper/tier"
)

// ErrUnknownKey indicates a key that is not declared in the configuration.
var ErrUnknownKey = errors.New("unknown key")

// Service owns the opened tiers and one Store per configured key. Values are
// JSON documents.
type Service struct {
	config   *config.AppConfig
	tiers    *tier.Set
	metrics  *keeper.Metrics
	registry *keeper.Registry
	keys     map[string]*Key
	logger   *zap.Logger
}

// Key is one configured logical key.
type Key struct {
	Config     config.KeyConfig
	Store      *keeper.Store[any]
	collection keeper.Collection[any, any]
}

// New opens every configured tier and registers every configured key.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("configuration is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	set, err := tier.Open(ctx, &cfg.Tiers, logger)
	if err != nil {
		return nil, err
	}
	s, err := newService(cfg, set, logger)
	if err != nil {
		set.Close()
		return nil, err
	}
	return s, nil
}

func newService(cfg *config.AppConfig, set *tier.Set, logger *zap.Logger) (*Service, error) {
	metrics, err := keeper.NewMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	registry, err := keeper.NewRegistry(keeper.RegistryConfig{
		Adapters:          set.Adapters(),
		Defaults:          cfg.Store,
		TrailTier:         cfg.Trail.Tier,
		TrailKey:          cfg.Trail.Key,
		MaxRecoveryEvents: cfg.Trail.MaxEvents,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:   cfg,
		tiers:    set,
		metrics:  metrics,
		registry: registry,
		keys:     make(map[string]*Key, len(cfg.Keys)),
		logger:   logger.With(zap.String("component", "service")),
	}
	for _, kc := range cfg.Keys {
		k, err := register(registry, kc)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", kc.Name, err)
		}
		s.keys[kc.Name] = k
	}
	s.logger.Info("service ready", zap.Int("keys", len(s.keys)), zap.Any("tiers", set.Tiers()))
	return s, nil
}

func register(registry *keeper.Registry, kc config.KeyConfig) (*Key, error) {
	predicate, err := predicateFor(kc)
	if err != nil {
		return nil, err
	}
	store, err := keeper.Register(registry, kc.Name, keeper.Config[any]{
		Options:   kc.Options,
		Default:   kc.Default,
		Predicate: predicate,
	})
	if err != nil {
		return nil, err
	}
	return &Key{Config: kc, Store: store, collection: collectionFor(kc.IDField)}, nil
}

func predicateFor(kc config.KeyConfig) (keeper.Predicate[any], error) {
	predicates := []keeper.Predicate[any]{keeper.NotNil[any]()}
	if kc.Schema != "" {
		p, err := keeper.SchemaPredicate[any](kc.Name+".schema.json", kc.Schema)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	if kc.Expr != "" {
		p, err := keeper.ExprPredicate[any](kc.Expr)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, p)
	}
	return keeper.All(predicates...), nil
}

// collectionFor treats list values as collections. Elements are objects identified by
// idField; elements without it are deduplicated by content.
func collectionFor(idField string) keeper.Collection[any, any] {
	return keeper.Collection[any, any]{
		Items: func(v any) ([]any, bool) {
			items, ok := v.([]any)
			return items, ok
		},
		Build: func(items []any) any {
			if items == nil {
				return []any{}
			}
			return items
		},
		ID: func(item any) string {
			if idField == "" {
				return ""
			}
			obj, ok := item.(map[string]any)
			if !ok {
				return ""
			}
			id, ok := obj[idField]
			if !ok || id == nil {
				return ""
			}
			return fmt.Sprint(id)
		},
	}
}

// EmergencyRecovery rebuilds a list key from every surviving fragment.
func (k *Key) EmergencyRecovery(ctx context.Context) (any, error) {
	return keeper.EmergencyRecovery(ctx, k.Store, k.collection)
}

// Key returns a configured key.
func (s *Service) Key(name string) (*Key, error) {
	k, ok := s.keys[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return k, nil
}

// Keys returns the configured key names in sorted order.
func (s *Service) Keys() []string {
	names := make([]string, 0, len(s.keys))
	for name := range s.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the configuration the service was built from.
func (s *Service) Config() *config.AppConfig {
	return s.config
}

// Metrics returns the metrics of every store.
func (s *Service) Metrics() *keeper.Metrics {
	return s.metrics
}

// Registry returns the registry holding every store.
func (s *Service) Registry() *keeper.Registry {
	return s.registry
}

// Tiers returns the opened tiers.
func (s *Service) Tiers() *tier.Set {
	return s.tiers
}

// History returns the whole recovery trail, oldest first.
func (s *Service) History(ctx context.Context) ([]keeper.RecoveryEvent, error) {
	return s.registry.Trail().Events(ctx)
}

// NewMonitor creates a monitor over every key.
func (s *Service) NewMonitor() (*keeper.Monitor, error) {
	m, err := keeper.NewMonitor(&s.config.Monitor, s.logger)
	if err != nil {
		return nil, err
	}
	for _, t := range s.registry.Targets() {
		m.AddTarget(t)
	}
	return m, nil
}

// Close closes every tier.
func (s *Service) Close() error {
	return s.tiers.Close()
}
