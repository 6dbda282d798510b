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

package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusHTTPConfig configures the HTTP middleware for Prometheus metrics
type PrometheusHTTPConfig struct {
	// Namespace prefixes every metric name. Default: keeper
	Namespace string

	// ExcludePaths contains paths to exclude from metrics (e.g., health checks)
	ExcludePaths []string

	// DurationBuckets are the request duration histogram buckets.
	DurationBuckets []float64
}

// DefaultPrometheusHTTPConfig returns the defaults for HTTP metrics middleware
func DefaultPrometheusHTTPConfig() *PrometheusHTTPConfig {
	return &PrometheusHTTPConfig{
		Namespace:       "keeper",
		ExcludePaths:    []string{"/healthz", "/metrics"},
		DurationBuckets: prometheus.DefBuckets,
	}
}

// PrometheusHTTPMiddleware records request counts and durations per route.
type PrometheusHTTPMiddleware struct {
	exclude  map[string]bool
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusHTTPMiddleware registers the HTTP collectors on reg. Collectors that
// are already registered, e.g. by an earlier router over the same registry, are reused.
func NewPrometheusHTTPMiddleware(reg prometheus.Registerer, config *PrometheusHTTPConfig) (*PrometheusHTTPMiddleware, error) {
	if config == nil {
		config = DefaultPrometheusHTTPConfig()
	}
	if config.Namespace == "" {
		config.Namespace = "keeper"
	}
	if len(config.DurationBuckets) == 0 {
		config.DurationBuckets = prometheus.DefBuckets
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "http_requests_total",
		Help:      "Total number of admin API requests",
	}, []string{"method", "route", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Admin API request duration",
		Buckets:   config.DurationBuckets,
	}, []string{"method", "route"})

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}

	m := &PrometheusHTTPMiddleware{
		exclude:  make(map[string]bool, len(config.ExcludePaths)),
		requests: requests,
		duration: duration,
	}
	for _, p := range config.ExcludePaths {
		m.exclude[p] = true
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Middleware returns the gin handler. Routes are labelled by their pattern, so
// /api/v1/keys/:key is one series regardless of the key.
func (m *PrometheusHTTPMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.exclude[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
