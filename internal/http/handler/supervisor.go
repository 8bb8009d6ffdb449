// Package handler exposes the supervisor's operations over the
// operational HTTP surface.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/supervisor"
	"github.com/edgewatch/camd/pkg/jsonx"
)

// SupervisorHandler maps HTTP requests onto supervisor operations and
// typed supervisor errors onto status codes.
type SupervisorHandler struct {
	log *zap.Logger
	sup *supervisor.Supervisor
}

func NewSupervisorHandler(log *zap.Logger, sup *supervisor.Supervisor) *SupervisorHandler {
	return &SupervisorHandler{log: log.Named("http"), sup: sup}
}

// Health returns the monitor's current snapshot.
// GET /api/health
func (h *SupervisorHandler) Health(c *gin.Context) {
	snap, err := h.sup.Health()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CreateStream registers a relay path and returns its playback URLs.
// POST /api/streams
func (h *SupervisorHandler) CreateStream(c *gin.Context) {
	var desc supervisor.StreamDescriptor
	if err := jsonx.ParseStrictJSONBody(c.Request, &desc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	urls, err := h.sup.CreateStream(c.Request.Context(), desc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, urls)
}

// DeleteStream removes a relay path. Deleting an unknown path is not an
// error; the response reports whether anything was removed.
// DELETE /api/streams/:name
func (h *SupervisorHandler) DeleteStream(c *gin.Context) {
	deleted, err := h.sup.DeleteStream(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// StreamReady polls until the stream has an active publisher or the
// timeout elapses.
// GET /api/streams/:name/ready?timeout=5s
func (h *SupervisorHandler) StreamReady(c *gin.Context) {
	timeout := 5 * time.Second
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout: " + raw})
			return
		}
		timeout = d
	}

	ready, err := h.sup.CheckReadiness(c.Request.Context(), c.Param("name"), timeout)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

type startRecordingReq struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Format          string  `json:"format"`
}

// StartRecording begins a recording session for the stream.
// POST /api/streams/:name/record/start
func (h *SupervisorHandler) StartRecording(c *gin.Context) {
	var req startRecordingReq
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil && err != jsonx.ErrEmptyBody {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	sess, err := h.sup.StartRecording(c.Request.Context(), c.Param("name"), duration, req.Format)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// StopRecording ends the stream's recording session.
// POST /api/streams/:name/record/stop
func (h *SupervisorHandler) StopRecording(c *gin.Context) {
	res, err := h.sup.StopRecording(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type snapshotReq struct {
	Filename string `json:"filename"`
}

// Snapshot captures one frame from the stream. The capture outcome is
// always a 200 with a status field; only a malformed request is a 4xx.
// POST /api/streams/:name/snapshot
func (h *SupervisorHandler) Snapshot(c *gin.Context) {
	var req snapshotReq
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	res := h.sup.CaptureSnapshot(c.Request.Context(), c.Param("name"), req.Filename)
	c.JSON(http.StatusOK, res)
}

// UpdateConfig validates and applies media server global-config updates.
// PATCH /api/config
func (h *SupervisorHandler) UpdateConfig(c *gin.Context) {
	var updates map[string]any
	if err := jsonx.ParseStrictJSONBody(c.Request, &updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.sup.ValidateAndApply(c.Request.Context(), updates); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps the supervisor error taxonomy onto HTTP status codes.
func (h *SupervisorHandler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, supervisor.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, supervisor.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, supervisor.ErrUnreachable):
		status = http.StatusBadGateway
	case errors.Is(err, supervisor.ErrNotStarted):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
