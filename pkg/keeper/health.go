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
	"time"

	"go.uber.org/zap"
)

// HealthStatus is the outcome of one health check.
type HealthStatus string

const (
	// HealthStatusHealthy means the authoritative copy is present and valid.
	HealthStatusHealthy HealthStatus = "healthy"

	// HealthStatusRecovered means the check found corruption and recovery succeeded.
	HealthStatusRecovered HealthStatus = "recovered"

	// HealthStatusDegraded means the authoritative tier could not be read.
	HealthStatusDegraded HealthStatus = "degraded"

	// HealthStatusUninitialized means the key was never populated. Nothing is repaired.
	HealthStatusUninitialized HealthStatus = "uninitialized"

	// HealthStatusFailed means corruption was found and every recovery source failed.
	HealthStatusFailed HealthStatus = "failed"
)

// HealthReport is the result of checking one key.
type HealthReport struct {
	Key       string         `json:"key" yaml:"key"`
	Status    HealthStatus   `json:"status" yaml:"status"`
	CheckTime time.Time      `json:"checkTime" yaml:"check_time"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
	Source    RecoverySource `json:"source,omitempty" yaml:"source,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// IsHealthy reports whether the key needs no attention.
func (r *HealthReport) IsHealthy() bool {
	return r.Status == HealthStatusHealthy || r.Status == HealthStatusRecovered || r.Status == HealthStatusUninitialized
}

// CheckHealth re-reads the authoritative tier. A valid record refreshes the in-memory
// value; a corrupt record, or one missing from an initialized key, is recovered.
// Keys that were never initialized are reported and left alone.
func (s *Store[T]) CheckHealth(ctx context.Context) (report *HealthReport, err error) {
	ctx, span := startSpan(ctx, "keeper.Store.CheckHealth", s.key)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.clock()
	report = &HealthReport{Key: s.key, CheckTime: start}
	defer func() {
		report.Duration = s.clock().Sub(start)
		s.metrics.recordHealthCheck(s.key, report.Status)
	}()

	raw, found, err := s.adapters[s.anchor].Get(ctx, TierKey(s.anchor, s.key))
	if err != nil {
		report.Status = HealthStatusDegraded
		report.Error = unavailable(s.anchor, "get", err).Error()
		s.logger.Warn("health check could not read authoritative tier", zap.Error(err))
		return report, nil
	}

	var cause error
	if !found {
		initialized, ierr := isInitialized(ctx, s.anchor, s.adapters[s.anchor], s.key)
		if ierr != nil {
			report.Status = HealthStatusDegraded
			report.Error = ierr.Error()
			return report, nil
		}
		if !initialized {
			report.Status = HealthStatusUninitialized
			return report, nil
		}
		cause = &CorruptionError{Key: s.key, Tier: s.anchor, Err: errMissingRecord}
	} else {
		out, derr := s.format.decode(s.anchor, raw)
		if derr == nil {
			if !out.outdated {
				s.remember(out.value, out.meta.CreatedAt, out.meta.UpdatedAt)
				report.Status = HealthStatusHealthy
				return report, nil
			}
			s.createdAt = out.meta.CreatedAt
			if werr := s.writeAll(ctx, out.value); werr != nil {
				s.logger.Warn("failed to persist migrated record", zap.Error(werr))
				s.remember(out.value, out.meta.CreatedAt, out.meta.UpdatedAt)
				report.Status = HealthStatusDegraded
				report.Error = werr.Error()
				return report, nil
			}
			s.logger.Info("migrated record during health check",
				zap.Int("from_version", out.meta.Version),
				zap.Int("to_version", s.format.version),
			)
			report.Status = HealthStatusHealthy
			return report, nil
		}
		cause = derr
	}

	_, source, rerr := s.recovery.recover(ctx, cause)
	report.Source = source
	if rerr != nil {
		report.Status = HealthStatusFailed
		report.Error = rerr.Error()
		if errors.Is(rerr, ErrRecoveryExhausted) {
			return report, nil
		}
		return report, rerr
	}
	report.Status = HealthStatusRecovered
	return report, nil
}
