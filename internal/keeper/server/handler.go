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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/internal/keeper/service"
	"github.com/innovationmech/keeper/pkg/keeper"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// KeyInfo describes one configured key.
type KeyInfo struct {
	Name    string        `json:"name"`
	Version int           `json:"version"`
	Tiers   []keeper.Tier `json:"tiers"`
	State   string        `json:"state"`
}

// ValueResponse carries the value of a key.
type ValueResponse struct {
	Key    string                `json:"key"`
	Value  any                   `json:"value"`
	Source keeper.RecoverySource `json:"source,omitempty"`
}

// HealthResponse combines a health check with the per-tier data health.
type HealthResponse struct {
	Report *keeper.HealthReport `json:"report"`
	Tiers  map[keeper.Tier]bool `json:"tiers"`
	State  keeper.RecoveryState `json:"state"`
}

// BackupInfo is a backup entry without its snapshot payloads.
type BackupInfo struct {
	Key        string      `json:"key"`
	Timestamp  time.Time   `json:"timestamp"`
	Reason     string      `json:"reason"`
	TierOrigin keeper.Tier `json:"tierOrigin,omitempty"`
	Size       int         `json:"size"`
}

// BackupRequest is the body of a backup request.
type BackupRequest struct {
	Reason string `json:"reason"`
}

// RestoreRequest is the body of a restore request.
type RestoreRequest struct {
	BackupKey string `json:"backupKey" binding:"required"`
}

// Handler serves the admin API over a Service.
type Handler struct {
	service *service.Service
	logger  *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: svc, logger: logger.With(zap.String("component", "admin_api"))}
}

func (h *Handler) key(c *gin.Context) (*service.Key, bool) {
	k, err := h.service.Key(c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return k, true
}

// ListKeys returns every configured key.
func (h *Handler) ListKeys(c *gin.Context) {
	out := make([]KeyInfo, 0, len(h.service.Keys()))
	for _, name := range h.service.Keys() {
		k, _ := h.service.Key(name)
		out = append(out, KeyInfo{
			Name:    name,
			Version: k.Store.Options().Version,
			Tiers:   k.Store.Tiers(),
			State:   string(k.Store.State()),
		})
	}
	c.JSON(http.StatusOK, out)
}

// Get loads the value of a key.
func (h *Handler) Get(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	v, err := k.Store.Load(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Key: k.Config.Name, Value: v})
}

// Put saves the request body as the value of a key.
func (h *Handler) Put(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	var v any
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := k.Store.Save(c.Request.Context(), v); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Key: k.Config.Name, Value: v})
}

// Clear removes a key from every tier.
func (h *Handler) Clear(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	if err := k.Store.ClearAllData(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reseed overwrites a key with its default.
func (h *Handler) Reseed(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	v, err := k.Store.ForceReseed(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Key: k.Config.Name, Value: v, Source: keeper.SourceDefaultReseed})
}

// Health checks a key and reports which tiers hold a copy of it.
func (h *Handler) Health(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	report, err := k.Store.CheckHealth(ctx)
	if err != nil && report == nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if !report.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{Report: report, Tiers: k.Store.GetDataHealth(ctx), State: k.Store.State()})
}

// Backups lists the backups of a key, newest first.
func (h *Handler) Backups(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	entries, err := k.Store.Backups(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]BackupInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, backupInfo(&e))
	}
	c.JSON(http.StatusOK, out)
}

// CreateBackup snapshots a key.
func (h *Handler) CreateBackup(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	req := BackupRequest{Reason: "manual"}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}
	entry, err := k.Store.CreateBackup(c.Request.Context(), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, backupInfo(entry))
}

// Restore restores a key from a named backup.
func (h *Handler) Restore(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := k.Store.RestoreFromBackup(ctx, req.BackupKey); err != nil {
		h.fail(c, err)
		return
	}
	v, err := k.Store.Load(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Key: k.Config.Name, Value: v, Source: keeper.SourceManualRestore})
}

// Recover runs the recovery chain of a key.
func (h *Handler) Recover(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	v, source, err := k.Store.Recovery().Recover(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Key: k.Config.Name, Value: v, Source: source})
}

// Emergency rebuilds a list key from every surviving fragment.
func (h *Handler) Emergency(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	v, err := k.EmergencyRecovery(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ValueResponse{Key: k.Config.Name, Value: v, Source: keeper.SourceEmergencyUnion})
}

// KeyHistory returns the recovery events of a key.
func (h *Handler) KeyHistory(c *gin.Context) {
	k, ok := h.key(c)
	if !ok {
		return
	}
	events, err := k.Store.GetRecoveryHistory(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// History returns the whole recovery trail.
func (h *Handler) History(c *gin.Context) {
	events, err := h.service.History(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("key", c.Param("key")), zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownKey), errors.Is(err, keeper.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, keeper.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, keeper.ErrConflict), errors.Is(err, keeper.ErrNothingToBackup):
		return http.StatusConflict
	case errors.Is(err, keeper.ErrNotCollection):
		return http.StatusBadRequest
	case errors.Is(err, keeper.ErrRecoveryExhausted), errors.Is(err, keeper.ErrTierUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func backupInfo(e *keeper.BackupEntry) BackupInfo {
	return BackupInfo{
		Key:        e.Key,
		Timestamp:  e.Timestamp,
		Reason:     e.Reason,
		TierOrigin: e.TierOrigin,
		Size:       len(e.Snapshot) + len(e.Secondary),
	}
}
