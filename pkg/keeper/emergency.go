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
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Collection describes how to take a collection value apart and rebuild it.
type Collection[T, E any] struct {
	// Items returns the elements of v, or false if v is not a collection.
	Items func(v T) ([]E, bool)

	// Build assembles a value from elements.
	Build func(items []E) T

	// ID returns the identity used to deduplicate elements. Elements with an empty
	// ID are deduplicated by their JSON encoding.
	ID func(item E) string
}

// SliceCollection is the Collection of a plain slice.
func SliceCollection[E any](id func(E) string) Collection[[]E, E] {
	return Collection[[]E, E]{
		Items: func(v []E) ([]E, bool) { return v, v != nil },
		Build: func(items []E) []E { return items },
		ID:    id,
	}
}

// EmergencyRecovery rebuilds a collection key from every surviving fragment. It reads
// each configured tier, the in-memory value and the most recent backups, merges their
// elements by ID in first-seen order, validates the union and saves it to every tier.
// Sources that cannot be decoded are skipped; element-level data survives even when a
// source fails the key's predicate as a whole.
func EmergencyRecovery[T, E any](ctx context.Context, s *Store[T], c Collection[T, E]) (v T, err error) {
	ctx, span := startSpan(ctx, "keeper.EmergencyRecovery", s.key)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Items == nil || c.Build == nil || c.ID == nil {
		return v, fmt.Errorf("%w: collection functions must be set", ErrInvalidConfig)
	}

	var (
		seen        = make(map[string]struct{})
		union       []E
		counts      = make(map[string]int)
		sources     int
		collections int
	)
	add := func(source string, value T) {
		sources++
		items, ok := c.Items(value)
		if !ok {
			return
		}
		collections++
		added := 0
		for _, item := range items {
			id := c.ID(item)
			if id == "" {
				b, err := json.Marshal(item)
				if err != nil {
					continue
				}
				id = "raw:" + string(b)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			union = append(union, item)
			added++
		}
		counts[source] += added
	}

	for _, t := range s.tiers {
		raw, found, err := s.adapters[t].Get(ctx, TierKey(t, s.key))
		if err != nil || !found {
			continue
		}
		out, err := s.format.decodeLenient(t, raw)
		if err != nil {
			s.logger.Debug("emergency recovery skipped tier", zap.String("tier", string(t)), zap.Error(err))
			continue
		}
		add(string(t), out.value)
	}

	if s.cache != nil {
		add(string(TierMemory), *s.cache)
	}

	keys, err := s.recovery.ring.keys(ctx)
	if err != nil {
		s.logger.Warn("emergency recovery could not list backups", zap.Error(err))
	}
	if depth := s.opts.EmergencyBackupDepth; len(keys) > depth {
		keys = keys[:depth]
	}
	for _, k := range keys {
		entry, err := s.recovery.ring.load(ctx, k)
		if err != nil {
			continue
		}
		for _, snap := range []struct {
			tier Tier
			raw  []byte
		}{{entry.TierOrigin, entry.Snapshot}, {entry.SecondaryOrigin, entry.Secondary}} {
			if len(snap.raw) == 0 {
				continue
			}
			if out, err := s.format.decodeLenient(snap.tier, snap.raw); err == nil {
				add(k, out.value)
			}
		}
	}

	s.logger.Info("emergency recovery merged sources",
		zap.Int("items", len(union)),
		zap.Any("contributions", counts),
	)

	switch {
	case sources == 0:
		return v, fmt.Errorf("%w: no data survived for %q", ErrRecoveryExhausted, s.key)
	case collections == 0:
		return v, fmt.Errorf("%w: %q", ErrNotCollection, s.key)
	case len(union) == 0:
		return v, fmt.Errorf("%w: no items survived for %q", ErrRecoveryExhausted, s.key)
	}

	v = c.Build(union)
	if err = s.format.validate(v); err != nil {
		return v, err
	}
	if err = s.writeAll(ctx, v); err != nil {
		return v, err
	}
	s.markInitialized(ctx)

	detail, _ := json.Marshal(counts)
	s.trail.record(ctx, RecoveryEvent{Key: s.key, Source: SourceEmergencyUnion, Detail: string(detail)})
	s.metrics.recordRecovery(s.key, SourceEmergencyUnion)
	return v, nil
}
