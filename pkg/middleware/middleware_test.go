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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/keys/:key", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/fail", func(c *gin.Context) { c.String(http.StatusInternalServerError, "boom") })
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func serve(r http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newEngine(RequestLogger(zap.New(core), nil))

	w := serve(r, "/keys/countries?verbose=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = serve(r, "/keys/countries", RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	serve(r, "/fail")
	serve(r, "/healthz")

	entries := logs.All()
	require.Len(t, entries, 3, "skipped paths are not logged")
	assert.Equal(t, "HTTP request completed", entries[0].Message)
	assert.Equal(t, "/keys/countries?verbose=1", entries[0].ContextMap()["path"])
	assert.Equal(t, "countries", entries[0].ContextMap()["key"])
	assert.Equal(t, "req-42", entries[1].ContextMap()["request_id"])
	assert.Equal(t, "HTTP request failed", entries[2].Message)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}

func TestPrometheusHTTPMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusHTTPMiddleware(reg, nil)
	require.NoError(t, err)
	r := newEngine(m.Middleware())

	serve(r, "/keys/countries")
	serve(r, "/keys/cities")
	serve(r, "/fail")
	serve(r, "/healthz")
	serve(r, "/missing")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/keys/:key", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/fail", "500")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))

	count, err := testutil.GatherAndCount(reg, "keeper_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "healthz is excluded")

	again, err := NewPrometheusHTTPMiddleware(reg, nil)
	require.NoError(t, err, "collectors are reused")
	assert.Same(t, m.requests, again.requests)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP keeper_http_requests_total Total number of admin API requests
# TYPE keeper_http_requests_total counter
keeper_http_requests_total{method="GET",route="/fail",status="500"} 1
keeper_http_requests_total{method="GET",route="/keys/:key",status="200"} 2
keeper_http_requests_total{method="GET",route="unmatched",status="404"} 1
`), "keeper_http_requests_total")
	assert.NoError(t, err)
}
