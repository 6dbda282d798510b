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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMonitorClosed is returned when operating on a closed monitor.
	ErrMonitorClosed = errors.New("monitor is closed")

	// ErrMonitorNotStarted is returned by Stop on a monitor that is not running.
	ErrMonitorNotStarted = errors.New("monitor not started")
)

// Target is a key the Monitor can check and back up. *Store[T] implements it.
type Target interface {
	Key() string
	CheckHealth(ctx context.Context) (*HealthReport, error)
	CreateBackup(ctx context.Context, reason string) (*BackupEntry, error)
}

// MonitorConfig configures periodic health checks and automatic backups.
type MonitorConfig struct {
	// HealthCheckInterval is the period between health check sweeps.
	// Default: 30 seconds
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval" mapstructure:"health_check_interval"`

	// AutoBackupInterval is the period between automatic backups.
	// Default: 5 minutes
	AutoBackupInterval time.Duration `json:"auto_backup_interval" yaml:"auto_backup_interval" mapstructure:"auto_backup_interval"`

	// CheckTimeout bounds one sweep over every target.
	// Default: 10 seconds
	CheckTimeout time.Duration `json:"check_timeout" yaml:"check_timeout" mapstructure:"check_timeout"`

	// EnableAutoBackup enables the backup ticker.
	// Default: true
	EnableAutoBackup bool `json:"enable_auto_backup" yaml:"enable_auto_backup" mapstructure:"enable_auto_backup"`
}

// DefaultMonitorConfig returns a MonitorConfig with the default values.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		HealthCheckInterval: 30 * time.Second,
		AutoBackupInterval:  5 * time.Minute,
		CheckTimeout:        10 * time.Second,
		EnableAutoBackup:    true,
	}
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.HealthCheckInterval <= 0 {
		return errors.New("health check interval must be positive")
	}
	if c.EnableAutoBackup && c.AutoBackupInterval <= 0 {
		return errors.New("auto backup interval must be positive when auto backup is enabled")
	}
	if c.CheckTimeout <= 0 {
		return errors.New("check timeout must be positive")
	}
	return nil
}

// ReportListener receives every health report the monitor produces.
type ReportListener func(*HealthReport)

// Monitor periodically checks registered keys and backs them up. A check can also be
// forced with Resume or by any registered trigger channel, e.g. when the application
// returns to the foreground or a watched file changes.
type Monitor struct {
	config *MonitorConfig
	logger *zap.Logger

	targetsMu sync.RWMutex
	targets   map[string]Target

	listenersMu sync.RWMutex
	listeners   []ReportListener

	resumeCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	triggersMu sync.Mutex
	triggers   []<-chan struct{}
	runCtx     context.Context

	started atomic.Bool
	closed  atomic.Bool

	lastMu      sync.RWMutex
	lastReports map[string]*HealthReport
}

// NewMonitor creates a Monitor. A nil config uses DefaultMonitorConfig.
func NewMonitor(config *MonitorConfig, logger *zap.Logger) (*Monitor, error) {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		config:      config,
		logger:      logger.With(zap.String("component", "health_monitor")),
		targets:     make(map[string]Target),
		resumeCh:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		lastReports: make(map[string]*HealthReport),
	}, nil
}

// AddTarget registers a key. A target with the same key is replaced.
func (m *Monitor) AddTarget(t Target) {
	if t == nil {
		return
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	m.targets[t.Key()] = t
}

// RemoveTarget unregisters a key.
func (m *Monitor) RemoveTarget(key string) {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	delete(m.targets, key)
}

// OnReport registers a listener for health reports.
func (m *Monitor) OnReport(l ReportListener) {
	if l == nil {
		return
	}
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// AddTrigger forces a health check every time ch receives a value.
func (m *Monitor) AddTrigger(ch <-chan struct{}) {
	if ch == nil {
		return
	}
	m.triggersMu.Lock()
	defer m.triggersMu.Unlock()
	m.triggers = append(m.triggers, ch)
	if m.runCtx != nil {
		go m.forward(m.runCtx, ch)
	}
}

// Resume requests an immediate health check. Requests made while one is pending coalesce.
func (m *Monitor) Resume() {
	select {
	case m.resumeCh <- struct{}{}:
	default:
	}
}

// Start begins the monitoring loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrMonitorClosed
	}
	if m.started.Swap(true) {
		return errors.New("monitor already started")
	}

	m.triggersMu.Lock()
	m.runCtx = ctx
	for _, ch := range m.triggers {
		go m.forward(ctx, ch)
	}
	m.triggersMu.Unlock()

	m.logger.Info("starting health monitor",
		zap.Duration("health_check_interval", m.config.HealthCheckInterval),
		zap.Duration("auto_backup_interval", m.config.AutoBackupInterval),
		zap.Bool("auto_backup_enabled", m.config.EnableAutoBackup),
	)
	go m.loop(ctx)
	return nil
}

// Stop halts the monitoring loop and waits for it to exit.
func (m *Monitor) Stop() error {
	if m.closed.Load() {
		return ErrMonitorClosed
	}
	if !m.started.Load() {
		return ErrMonitorNotStarted
	}
	m.closed.Store(true)
	close(m.stopCh)
	<-m.doneCh
	m.logger.Info("health monitor stopped")
	return nil
}

// CheckNow checks every target once and returns the reports sorted by key.
func (m *Monitor) CheckNow(ctx context.Context) []*HealthReport {
	ctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	targets := m.snapshot()
	reports := make([]*HealthReport, 0, len(targets))
	for _, t := range targets {
		report, err := t.CheckHealth(ctx)
		if report == nil {
			report = &HealthReport{Key: t.Key(), Status: HealthStatusFailed, CheckTime: time.Now()}
		}
		if err != nil && report.Error == "" {
			report.Error = err.Error()
		}
		m.logReport(report)
		m.store(report)
		m.emit(report)
		reports = append(reports, report)
	}
	return reports
}

// BackupNow backs up every target once. Keys without valid data are skipped.
func (m *Monitor) BackupNow(ctx context.Context) []*BackupEntry {
	entries := make([]*BackupEntry, 0)
	for _, t := range m.snapshot() {
		entry, err := t.CreateBackup(ctx, "auto")
		switch {
		case errors.Is(err, ErrNothingToBackup):
			m.logger.Debug("nothing to back up", zap.String("key", t.Key()))
		case err != nil:
			m.logger.Warn("automatic backup failed", zap.String("key", t.Key()), zap.Error(err))
		default:
			entries = append(entries, entry)
		}
	}
	return entries
}

// LastReports returns the most recent report of every checked key.
func (m *Monitor) LastReports() map[string]*HealthReport {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	out := make(map[string]*HealthReport, len(m.lastReports))
	for k, r := range m.lastReports {
		out[k] = r
	}
	return out
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	healthTicker := time.NewTicker(m.config.HealthCheckInterval)
	defer healthTicker.Stop()

	var backupC <-chan time.Time
	if m.config.EnableAutoBackup {
		backupTicker := time.NewTicker(m.config.AutoBackupInterval)
		defer backupTicker.Stop()
		backupC = backupTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped by context cancellation")
			return
		case <-m.stopCh:
			return
		case <-healthTicker.C:
			m.CheckNow(ctx)
		case <-m.resumeCh:
			m.logger.Debug("health check requested")
			m.CheckNow(ctx)
		case <-backupC:
			m.BackupNow(ctx)
		}
	}
}

func (m *Monitor) forward(ctx context.Context, ch <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.Resume()
		}
	}
}

func (m *Monitor) snapshot() []Target {
	m.targetsMu.RLock()
	defer m.targetsMu.RUnlock()
	out := make([]Target, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (m *Monitor) store(r *HealthReport) {
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	m.lastReports[r.Key] = r
}

func (m *Monitor) logReport(r *HealthReport) {
	fields := []zap.Field{
		zap.String("key", r.Key),
		zap.String("status", string(r.Status)),
		zap.Duration("duration", r.Duration),
	}
	switch r.Status {
	case HealthStatusRecovered:
		m.logger.Warn("key recovered during health check", append(fields, zap.String("source", string(r.Source)))...)
	case HealthStatusFailed, HealthStatusDegraded:
		m.logger.Error("key unhealthy", append(fields, zap.String("error", r.Error))...)
	default:
		m.logger.Debug("health check completed", fields...)
	}
}

func (m *Monitor) emit(r *HealthReport) {
	m.listenersMu.RLock()
	listeners := make([]ReportListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if p := recover(); p != nil {
					m.logger.Error("report listener panic", zap.String("key", r.Key), zap.Any("panic", p))
				}
			}()
			l(r)
		}()
	}
}
