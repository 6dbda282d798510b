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

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/internal/keeper/service"
	"github.com/innovationmech/keeper/pkg/middleware"
)

// Server is the admin HTTP API.
type Server struct {
	service         *service.Service
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server listening on address.
func New(svc *service.Service, address string, shutdownTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service:         svc,
		httpServer:      &http.Server{Addr: address, Handler: NewRouter(svc, logger), ReadHeaderTimeout: 10 * time.Second},
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(zap.String("component", "http_server")),
	}
}

// NewRouter registers every admin route.
func NewRouter(svc *service.Service, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger, nil))
	if m, err := middleware.NewPrometheusHTTPMiddleware(svc.Metrics().Registry(), nil); err != nil {
		logger.Warn("HTTP metrics disabled", zap.Error(err))
	} else {
		r.Use(m.Middleware())
	}

	h := NewHandler(svc, logger)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Metrics().Registry(), promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/keys", h.ListKeys)
		v1.GET("/history", h.History)

		keys := v1.Group("/keys/:key")
		keys.GET("", h.Get)
		keys.PUT("", h.Put)
		keys.DELETE("", h.Clear)
		keys.POST("/reseed", h.Reseed)
		keys.GET("/health", h.Health)
		keys.GET("/backups", h.Backups)
		keys.POST("/backups", h.CreateBackup)
		keys.POST("/restore", h.Restore)
		keys.POST("/recover", h.Recover)
		keys.POST("/emergency", h.Emergency)
		keys.GET("/history", h.KeyHistory)
	}
	return r
}

// Start listens and serves until Stop is called. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("admin API listening", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
