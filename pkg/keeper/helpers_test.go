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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// faultAdapter is an in-memory TierAdapter whose operations can be made to fail or hang.
type faultAdapter struct {
	mu       sync.Mutex
	data     map[string][]byte
	failGet  bool
	failPut  bool
	failDel  bool
	hang     bool
	getCalls int
	putCalls int
}

func newFaultAdapter() *faultAdapter {
	return &faultAdapter{data: make(map[string][]byte)}
}

func (a *faultAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := a.wait(ctx); err != nil {
		return nil, false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls++
	if a.failGet {
		return nil, false, errInjected
	}
	v, ok := a.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (a *faultAdapter) Put(ctx context.Context, key string, value []byte) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.putCalls++
	if a.failPut {
		return errInjected
	}
	a.data[key] = append([]byte(nil), value...)
	return nil
}

func (a *faultAdapter) Delete(ctx context.Context, key string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failDel {
		return errInjected
	}
	delete(a.data, key)
	return nil
}

func (a *faultAdapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = make(map[string][]byte)
	return nil
}

// wait blocks until ctx is done when the adapter hangs. The returned error is nil
// so a hung call that ignores its deadline is caught only by the caller.
func (a *faultAdapter) wait(ctx context.Context) error {
	a.mu.Lock()
	hang := a.hang
	a.mu.Unlock()
	if hang {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (a *faultAdapter) set(key string, value []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = value
}

func (a *faultAdapter) raw(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.data[key]
	return v, ok
}

func (a *faultAdapter) keysWithPrefix(prefix string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for k := range a.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func (a *faultAdapter) setFailures(get, put bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failGet = get
	a.failPut = put
}

// fakeClock advances one millisecond on every reading.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type country struct {
	Code string `json:"code" validate:"required,len=2"`
	Name string `json:"name" validate:"required"`
}

var defaultCountries = []country{{Code: "US", Name: "United States"}, {Code: "DE", Name: "Germany"}}

func countryPredicate() Predicate[[]country] {
	return All(NonEmpty[country](), StructPredicate[[]country](nil))
}

type testTiers struct {
	primary, session, backupCopy *faultAdapter
}

func (tt testTiers) adapters() map[Tier]TierAdapter {
	return map[Tier]TierAdapter{
		TierPrimary:    tt.primary,
		TierSession:    tt.session,
		TierBackupCopy: tt.backupCopy,
	}
}

func newTestTiers() testTiers {
	return testTiers{primary: newFaultAdapter(), session: newFaultAdapter(), backupCopy: newFaultAdapter()}
}

func countryConfig(clock *fakeClock, trail *Trail) Config[[]country] {
	return Config[[]country]{
		Default:   defaultCountries,
		Predicate: countryPredicate(),
		Trail:     trail,
		Clock:     clock.Now,
	}
}

func newCountryStore(t *testing.T, tiers testTiers, mutate ...func(*Config[[]country])) (*Store[[]country], *Trail) {
	t.Helper()
	clock := newFakeClock()
	trail := NewTrail(TierPrimary, tiers.primary, WithTrailClock(clock.Now))
	cfg := countryConfig(clock, trail)
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewStore("countries", tiers.adapters(), cfg)
	require.NoError(t, err)
	return s, trail
}

func encodeTestRecord(t *testing.T, version int, data any) []byte {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := JSONCodec{}.EncodeRecord(RecordMeta{ID: "countries", Version: version, CreatedAt: now, UpdatedAt: now}, data)
	require.NoError(t, err)
	return b
}
