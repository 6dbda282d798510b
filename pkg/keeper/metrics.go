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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks tier operations, recoveries, backups and health checks.
// All methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	tierOps            *prometheus.CounterVec
	tierOpDuration     *prometheus.HistogramVec
	recoveriesTotal    *prometheus.CounterVec
	recoveryFailures   *prometheus.CounterVec
	backupsTotal       *prometheus.CounterVec
	healthChecksTotal  *prometheus.CounterVec
	validationFailures *prometheus.CounterVec

	registry *prometheus.Registry

	mu    sync.RWMutex
	stats MetricsStats
}

// MetricsStats is a point-in-time summary of the counters.
type MetricsStats struct {
	TierErrors         int64
	Recoveries         int64
	RecoveryFailures   int64
	BackupsCreated     int64
	HealthChecks       int64
	ValidationFailures int64
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the Prometheus namespace for all metrics (default: "keeper")
	Namespace string

	// Registry is the Prometheus registry to use. If nil, a new registry is created.
	Registry *prometheus.Registry

	// DurationBuckets defines the buckets for tier operation histograms.
	DurationBuckets []float64
}

// DefaultMetricsConfig returns a default configuration for Prometheus metrics.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace: "keeper",
		Registry:  prometheus.NewRegistry(),
		// Tier operations range from in-process lookups to remote round trips.
		DurationBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
	}
}

// NewMetrics creates Metrics and registers its collectors.
func NewMetrics(config *MetricsConfig) (*Metrics, error) {
	defaults := DefaultMetricsConfig()
	if config == nil {
		config = defaults
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.Namespace == "" {
		config.Namespace = defaults.Namespace
	}
	if config.DurationBuckets == nil {
		config.DurationBuckets = defaults.DurationBuckets
	}

	m := &Metrics{registry: config.Registry}

	m.tierOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "tier",
			Name:      "operations_total",
			Help:      "Total number of tier operations by outcome",
		},
		[]string{"tier", "op", "result"},
	)
	m.tierOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "tier",
			Name:      "operation_duration_seconds",
			Help:      "Tier operation duration in seconds",
			Buckets:   config.DurationBuckets,
		},
		[]string{"tier", "op"},
	)
	m.recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "recovery",
			Name:      "success_total",
			Help:      "Total number of successful recoveries by source",
		},
		[]string{"key", "source"},
	)
	m.recoveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "recovery",
			Name:      "failure_total",
			Help:      "Total number of recoveries that exhausted every source",
		},
		[]string{"key"},
	)
	m.backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "backup",
			Name:      "created_total",
			Help:      "Total number of backup attempts by outcome",
		},
		[]string{"key", "result"},
	)
	m.healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of health checks by status",
		},
		[]string{"key", "status"},
	)
	m.validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "validation",
			Name:      "failures_total",
			Help:      "Total number of values rejected by a predicate",
		},
		[]string{"key"},
	)

	collectors := []prometheus.Collector{
		m.tierOps,
		m.tierOpDuration,
		m.recoveriesTotal,
		m.recoveryFailures,
		m.backupsTotal,
		m.healthChecksTotal,
		m.validationFailures,
	}
	for _, c := range collectors {
		if err := config.Registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Stats returns a snapshot of the counters.
func (m *Metrics) Stats() MetricsStats {
	if m == nil {
		return MetricsStats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Metrics) recordTierOp(t Tier, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		m.mu.Lock()
		m.stats.TierErrors++
		m.mu.Unlock()
	}
	m.tierOps.WithLabelValues(string(t), op, result).Inc()
	m.tierOpDuration.WithLabelValues(string(t), op).Observe(d.Seconds())
}

func (m *Metrics) recordRecovery(key string, source RecoverySource) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stats.Recoveries++
	m.mu.Unlock()
	m.recoveriesTotal.WithLabelValues(key, string(source)).Inc()
}

func (m *Metrics) recordRecoveryFailure(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stats.RecoveryFailures++
	m.mu.Unlock()
	m.recoveryFailures.WithLabelValues(key).Inc()
}

func (m *Metrics) recordBackup(key string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrNothingToBackup):
		result = "skipped"
	case err != nil:
		result = "error"
	default:
		m.mu.Lock()
		m.stats.BackupsCreated++
		m.mu.Unlock()
	}
	m.backupsTotal.WithLabelValues(key, result).Inc()
}

func (m *Metrics) recordHealthCheck(key string, status HealthStatus) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stats.HealthChecks++
	m.mu.Unlock()
	m.healthChecksTotal.WithLabelValues(key, string(status)).Inc()
}

func (m *Metrics) recordValidationFailure(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stats.ValidationFailures++
	m.mu.Unlock()
	m.validationFailures.WithLabelValues(key).Inc()
}

// instrument wraps adapter so every call is counted and timed.
func (m *Metrics) instrument(t Tier, adapter TierAdapter) TierAdapter {
	if m == nil {
		return adapter
	}
	return &instrumentedAdapter{tier: t, next: adapter, metrics: m}
}

type instrumentedAdapter struct {
	tier    Tier
	next    TierAdapter
	metrics *Metrics
}

func (a *instrumentedAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, found, err := a.next.Get(ctx, key)
	a.metrics.recordTierOp(a.tier, "get", time.Since(start), err)
	return v, found, err
}

func (a *instrumentedAdapter) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := a.next.Put(ctx, key, value)
	a.metrics.recordTierOp(a.tier, "put", time.Since(start), err)
	return err
}

func (a *instrumentedAdapter) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := a.next.Delete(ctx, key)
	a.metrics.recordTierOp(a.tier, "delete", time.Since(start), err)
	return err
}

func (a *instrumentedAdapter) Clear(ctx context.Context) error {
	start := time.Now()
	err := a.next.Clear(ctx)
	a.metrics.recordTierOp(a.tier, "clear", time.Since(start), err)
	return err
}
