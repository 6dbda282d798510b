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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxRecoveryEvents bounds the recovery trail when no limit is configured.
const DefaultMaxRecoveryEvents = 50

// Trail is the capped, append-only log of recovery events shared by every key.
// Once full, the oldest events are dropped first.
type Trail struct {
	adapter TierAdapter
	tier    Tier
	key     string
	max     int
	clock   func() time.Time
	logger  *zap.Logger

	mu sync.Mutex
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithTrailKey overrides the storage key of the trail.
func WithTrailKey(key string) TrailOption {
	return func(t *Trail) {
		if key != "" {
			t.key = key
		}
	}
}

// WithTrailLimit overrides the number of retained events.
func WithTrailLimit(n int) TrailOption {
	return func(t *Trail) {
		if n > 0 {
			t.max = n
		}
	}
}

// WithTrailClock overrides time.Now.
func WithTrailClock(clock func() time.Time) TrailOption {
	return func(t *Trail) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithTrailLogger sets the logger.
func WithTrailLogger(logger *zap.Logger) TrailOption {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTrail creates a trail stored on adapter, which belongs to tier.
func NewTrail(tier Tier, adapter TierAdapter, opts ...TrailOption) *Trail {
	t := &Trail{
		adapter: adapter,
		tier:    tier,
		key:     DefaultTrailKey,
		max:     DefaultMaxRecoveryEvents,
		clock:   time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "recovery_trail"))
	return t
}

// Append stores ev, filling its ID and timestamp when unset.
func (t *Trail) Append(ctx context.Context, ev RecoveryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.clock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	events, err := t.load(ctx)
	if err != nil {
		return err
	}
	events = append(events, ev)
	if len(events) > t.max {
		events = events[len(events)-t.max:]
	}

	b, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return unavailable(t.tier, "put", t.adapter.Put(ctx, t.key, b))
}

// Events returns every retained event, oldest first.
func (t *Trail) Events(ctx context.Context) ([]RecoveryEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

// EventsFor returns the retained events of one logical key, oldest first.
func (t *Trail) EventsFor(ctx context.Context, key string) ([]RecoveryEvent, error) {
	events, err := t.Events(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RecoveryEvent, 0, len(events))
	for _, ev := range events {
		if ev.Key == key {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Clear removes every event.
func (t *Trail) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return unavailable(t.tier, "delete", t.adapter.Delete(ctx, t.key))
}

// load reads the stored events. An unreadable trail is discarded rather than
// blocking further appends.
func (t *Trail) load(ctx context.Context) ([]RecoveryEvent, error) {
	raw, found, err := t.adapter.Get(ctx, t.key)
	if err != nil {
		return nil, unavailable(t.tier, "get", err)
	}
	if !found {
		return []RecoveryEvent{}, nil
	}
	var events []RecoveryEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		t.logger.Warn("discarding unreadable recovery trail", zap.Error(err))
		return []RecoveryEvent{}, nil
	}
	return events, nil
}

// record appends ev and logs instead of failing; the trail is diagnostic only.
func (t *Trail) record(ctx context.Context, ev RecoveryEvent) {
	if t == nil {
		return
	}
	if err := t.Append(ctx, ev); err != nil {
		t.logger.Warn("failed to append recovery event",
			zap.String("key", ev.Key),
			zap.String("source", string(ev.Source)),
			zap.Error(err),
		)
	}
}
