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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckHealthStatuses(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)

	report, err := s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStatusUninitialized, report.Status)
	_, ok := tiers.primary.raw("countries")
	assert.False(t, ok, "an uninitialized key is left alone")

	want := []country{{Code: "LT", Name: "Lithuania"}}
	require.NoError(t, s.Save(ctx, want))
	report, err = s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.True(t, report.IsHealthy())

	corruptPrimary(tiers)
	report, err = s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStatusRecovered, report.Status)
	assert.Equal(t, SourceSecondaryTier, report.Source)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	tiers.primary.setFailures(true, false)
	report, err = s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStatusDegraded, report.Status)
	assert.False(t, report.IsHealthy())
}

func TestCheckHealthRecoversMissingPrimary(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)
	require.NoError(t, s.Save(ctx, defaultCountries))
	_, err := s.CreateBackup(ctx, "manual")
	require.NoError(t, err)
	require.NoError(t, tiers.primary.Delete(ctx, "countries"))

	report, err := s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStatusRecovered, report.Status)
	assert.Equal(t, SourceBackup, report.Source)

	_, ok := tiers.primary.raw("countries")
	assert.True(t, ok)
}

func TestCheckHealthRefreshesCachedValue(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)
	require.NoError(t, s.Save(ctx, defaultCountries))

	external := []country{{Code: "LV", Name: "Latvia"}}
	tiers.primary.set("countries", encodeTestRecord(t, 1, external))

	report, err := s.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthStatusHealthy, report.Status)

	for _, a := range []*faultAdapter{tiers.primary, tiers.session, tiers.backupCopy} {
		a.setFailures(true, true)
	}
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, external, got)
}

func TestMonitorValidation(t *testing.T) {
	_, err := NewMonitor(&MonitorConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	m, err := NewMonitor(nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Stop(), ErrMonitorNotStarted)
}

func TestMonitorCheckNow(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s, _ := newCountryStore(t, tiers)
	require.NoError(t, s.Save(ctx, defaultCountries))

	m, err := NewMonitor(nil, nil)
	require.NoError(t, err)
	m.AddTarget(s)

	var seen []*HealthReport
	m.OnReport(func(r *HealthReport) { seen = append(seen, r) })
	m.OnReport(func(*HealthReport) { panic("listener bug") })

	corruptPrimary(tiers)
	reports := m.CheckNow(ctx)
	require.Len(t, reports, 1)
	assert.Equal(t, HealthStatusRecovered, reports[0].Status)
	require.Len(t, seen, 1)
	assert.Equal(t, "countries", m.LastReports()["countries"].Key)

	m.RemoveTarget("countries")
	assert.Empty(t, m.CheckNow(ctx))
}

func TestMonitorBackupNow(t *testing.T) {
	ctx := context.Background()
	filled, _ := newCountryStore(t, newTestTiers())
	require.NoError(t, filled.Save(ctx, defaultCountries))
	empty, err := NewStore("empty", newTestTiers().adapters(), Config[[]country]{Default: defaultCountries})
	require.NoError(t, err)

	m, err := NewMonitor(nil, nil)
	require.NoError(t, err)
	m.AddTarget(filled)
	m.AddTarget(empty)

	entries := m.BackupNow(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, "countries", entries[0].LogicalKey)
	assert.Equal(t, "auto", entries[0].Reason)
}

type countingTarget struct {
	mu      sync.Mutex
	checks  int
	backups int
}

func (c *countingTarget) Key() string { return "counting" }

func (c *countingTarget) CheckHealth(context.Context) (*HealthReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	return &HealthReport{Key: "counting", Status: HealthStatusHealthy}, nil
}

func (c *countingTarget) CreateBackup(context.Context, string) (*BackupEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backups++
	return &BackupEntry{LogicalKey: "counting"}, nil
}

func (c *countingTarget) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks, c.backups
}

func TestMonitorLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := NewMonitor(&MonitorConfig{
		HealthCheckInterval: 20 * time.Millisecond,
		AutoBackupInterval:  30 * time.Millisecond,
		CheckTimeout:        time.Second,
		EnableAutoBackup:    true,
	}, nil)
	require.NoError(t, err)

	target := &countingTarget{}
	m.AddTarget(target)
	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx))

	assert.Eventually(t, func() bool {
		checks, backups := target.counts()
		return checks >= 2 && backups >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), ErrMonitorClosed)
	assert.ErrorIs(t, m.Start(ctx), ErrMonitorClosed)
}

func TestMonitorResumeAndTriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := NewMonitor(&MonitorConfig{
		HealthCheckInterval: time.Hour,
		CheckTimeout:        time.Second,
	}, nil)
	require.NoError(t, err)

	target := &countingTarget{}
	m.AddTarget(target)
	trigger := make(chan struct{})
	m.AddTrigger(trigger)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	m.Resume()
	assert.Eventually(t, func() bool {
		checks, _ := target.counts()
		return checks >= 1
	}, time.Second, 5*time.Millisecond)

	trigger <- struct{}{}
	assert.Eventually(t, func() bool {
		checks, _ := target.counts()
		return checks >= 2
	}, time.Second, 5*time.Millisecond)

	late := make(chan struct{})
	m.AddTrigger(late)
	late <- struct{}{}
	assert.Eventually(t, func() bool {
		checks, _ := target.counts()
		return checks >= 3
	}, time.Second, 5*time.Millisecond)

	_, backups := target.counts()
	assert.Zero(t, backups)
}
