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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func corruptPrimary(tiers testTiers) {
	tiers.primary.set("countries", []byte(`{"id":"countries","data":"oops","version":1}`))
}

func TestRecoveryPrefersNewestBackup(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, trail := newCountryStore(t, tiers)

	older := []country{{Code: "GR", Name: "Greece"}}
	newer := []country{{Code: "IE", Name: "Ireland"}}
	require.NoError(t, s.Save(ctx, older))
	_, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, newer))
	_, err = s.CreateBackup(ctx, "manual")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []country{{Code: "PL", Name: "Poland"}}))

	corruptPrimary(tiers)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	for _, raw := range [][]byte{
		mustRaw(t, tiers.primary, "countries"),
		mustRaw(t, tiers.session, "countries_session"),
		mustRaw(t, tiers.backupCopy, "countries_backup"),
	} {
		var rec StorageRecord[[]country]
		require.NoError(t, JSONCodec{}.Unmarshal(raw, &rec))
		assert.Equal(t, newer, rec.Data)
	}

	events, err := trail.EventsFor(ctx, "countries")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, SourceBackup, events[0].Source)
	assert.True(t, events[0].Succeeded())
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, StateHealthy, s.State())
}

func TestRecoveryFallsBackToSecondaryTier(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	want := []country{{Code: "NO", Name: "Norway"}}
	require.NoError(t, s.Save(ctx, want))
	corruptPrimary(tiers)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	history, err := s.GetRecoveryHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SourceSecondaryTier, history[0].Source)
}

func TestRecoverySkipsInvalidBackups(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	want := []country{{Code: "FI", Name: "Finland"}}
	require.NoError(t, s.Save(ctx, want))
	entry, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []country{{Code: "DK", Name: "Denmark"}}))
	broken, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)

	frame, err := noneCompressor{}.Compress([]byte(`{"key":"x","snapshot":"bm90IGpzb24="}`))
	require.NoError(t, err)
	tiers.primary.set(broken.Key, frame)
	corruptPrimary(tiers)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	history, err := s.GetRecoveryHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Contains(t, history[0].Detail, entry.Key)
}

func TestRecoveryReseedsWhenNothingSurvives(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	require.NoError(t, s.Save(ctx, []country{{Code: "CZ", Name: "Czechia"}}))
	corruptPrimary(tiers)
	tiers.session.set("countries_session", []byte("garbage"))

	var transitions []StateTransition
	s.Recovery().OnStateChange(func(tr StateTransition) { transitions = append(transitions, tr) })

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultCountries, got)

	states := make([]RecoveryState, 0, len(transitions))
	for _, tr := range transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []RecoveryState{StateCorrupt, StateRecovering, StateRecoveredViaReseed, StateHealthy}, states)
	assert.ErrorIs(t, transitions[0].Cause, ErrCorruption)

	history, err := s.GetRecoveryHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SourceDefaultReseed, history[0].Source)
}

func TestRecoveryExhausted(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	seedErr := errors.New("seed service down")
	s, _ := newCountryStore(t, tiers, func(c *Config[[]country]) {
		c.Seed = func(context.Context) ([]country, error) { return nil, seedErr }
	})

	tiers.primary.set("countries", []byte("garbage"))

	_, err := s.Load(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecoveryExhausted)
	assert.ErrorIs(t, err, seedErr)

	var exhausted *RecoveryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, StateCorrupt, s.State())

	history, err := s.GetRecoveryHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Succeeded())
	assert.Equal(t, SourceNone, history[0].Source)
}

func TestRecoveryOnMissingPrimaryOfInitializedKey(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	want := []country{{Code: "HU", Name: "Hungary"}}
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, tiers.primary.Delete(ctx, "countries"))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	history, err := s.GetRecoveryHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SourceSecondaryTier, history[0].Source)
}

func TestBackupRingEviction(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers, func(c *Config[[]country]) { c.MaxBackups = 3 })
	require.NoError(t, s.Save(ctx, defaultCountries))

	var created []string
	for i := 0; i < 8; i++ {
		entry, err := s.CreateBackup(ctx, fmt.Sprintf("run %d", i))
		require.NoError(t, err)
		created = append(created, entry.Key)
	}

	backups, err := s.Backups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, created[7], backups[0].Key)
	assert.Equal(t, created[6], backups[1].Key)
	assert.Equal(t, created[5], backups[2].Key)
	assert.Equal(t, "run 7", backups[0].Reason)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))

	stored := tiers.primary.keysWithPrefix("countries_backup_")
	assert.Len(t, stored, 3)
	for _, k := range created[:5] {
		_, ok := tiers.primary.raw(k)
		assert.False(t, ok, "evicted backup %s still stored", k)
	}
}

func TestBackupKeysAreUnique(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)
	require.NoError(t, s.Save(ctx, defaultCountries))

	ring := s.Recovery().ring
	first := &BackupEntry{LogicalKey: "countries", Timestamp: newFakeClock().now, Snapshot: []byte("x")}
	second := &BackupEntry{LogicalKey: "countries", Timestamp: first.Timestamp, Snapshot: []byte("x")}
	require.NoError(t, ring.add(ctx, first))
	require.NoError(t, ring.add(ctx, second))
	assert.NotEqual(t, first.Key, second.Key)
	assert.True(t, strings.HasPrefix(second.Key, first.Key))
	assert.NotContains(t, first.Key, ":")
}

func TestCreateBackupWithoutValidData(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	_, err := s.CreateBackup(ctx, "manual")
	assert.ErrorIs(t, err, ErrNothingToBackup)

	tiers.primary.set("countries", []byte("garbage"))
	_, err = s.CreateBackup(ctx, "manual")
	assert.ErrorIs(t, err, ErrNothingToBackup)

	backups, err := s.Backups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestCreateBackupCompressed(t *testing.T) {
	for _, name := range []string{CompressionSnappy, CompressionZstd, CompressionLZ4} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tiers := newTestTiers()
			s, _ := newCountryStore(t, tiers, func(c *Config[[]country]) { c.Compression = name })

			want := []country{{Code: "LU", Name: "Luxembourg"}}
			require.NoError(t, s.Save(ctx, want))
			entry, err := s.CreateBackup(ctx, "manual")
			require.NoError(t, err)
			require.NoError(t, s.Save(ctx, defaultCountries))

			require.NoError(t, s.RestoreFromBackup(ctx, entry.Key))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRestoreFromBackup(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	want := []country{{Code: "SK", Name: "Slovakia"}}
	require.NoError(t, s.Save(ctx, want))
	entry, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)

	current := []country{{Code: "SI", Name: "Slovenia"}}
	require.NoError(t, s.Save(ctx, current))

	require.NoError(t, s.RestoreFromBackup(ctx, entry.Key))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	backups, err := s.Backups(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "before_restore", backups[0].Reason)

	var rec StorageRecord[[]country]
	require.NoError(t, JSONCodec{}.Unmarshal(backups[0].Snapshot, &rec))
	assert.Equal(t, current, rec.Data)

	history, err := s.GetRecoveryHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, SourceManualRestore, history[0].Source)
}

func TestRestoreFromUnknownBackup(t *testing.T) {
	ctx := context.Background()
	s, _ := newCountryStore(t, newTestTiers())
	require.NoError(t, s.Save(ctx, defaultCountries))

	err := s.RestoreFromBackup(ctx, "countries_backup_missing")
	assert.ErrorIs(t, err, ErrBackupNotFound)

	backups, err := s.Backups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups, "a failed restore must not create a backup")
}

func TestStateListenerPanicIsContained(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)
	require.NoError(t, s.Save(ctx, defaultCountries))

	calls := 0
	s.Recovery().OnStateChange(func(StateTransition) { panic("boom") })
	s.Recovery().OnStateChange(func(StateTransition) { calls++ })
	corruptPrimary(tiers)

	_, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestManualRecover(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	want := []country{{Code: "EE", Name: "Estonia"}}
	require.NoError(t, s.Save(ctx, want))
	_, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)

	got, source, err := s.Recovery().Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceBackup, source)
	assert.Equal(t, want, got)
}

func TestClearBackups(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)
	require.NoError(t, s.Save(ctx, defaultCountries))
	_, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)

	require.NoError(t, s.Recovery().ClearBackups(ctx))
	backups, err := s.Backups(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups)
	assert.Empty(t, tiers.primary.keysWithPrefix("countries_backup_"))
}

func mustRaw(t *testing.T, a *faultAdapter, key string) []byte {
	t.Helper()
	raw, ok := a.raw(key)
	require.True(t, ok, "missing %s", key)
	return raw
}
