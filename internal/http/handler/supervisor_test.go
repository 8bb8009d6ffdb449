package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/metrics"
	"github.com/edgewatch/camd/internal/supervisor"
)

// fakeBackend is a minimal media server good enough to drive the handler
// through the supervisor: every path op succeeds, the health probe answers.
func fakeBackend() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v3/config/global/get", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("PATCH /v3/config/global/patch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"name":"cam1","ready":true}]}`))
	})
	mux.HandleFunc("POST /v3/config/paths/add/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("PATCH /v3/config/paths/patch/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /v3/config/paths/delete/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := httptest.NewServer(fakeBackend())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := supervisor.DefaultConfig()
	cfg.Host = u.Hostname()
	cfg.APIPort = port
	cfg.RecordingsDir = t.TempDir()
	cfg.SnapshotsDir = t.TempDir()
	cfg.APITimeout = 2 * time.Second
	cfg.ReadinessPollInterval = 10 * time.Millisecond
	cfg.SnapshotTimeout = time.Second
	cfg.FFmpegBin = "/nonexistent/ffmpeg"

	sup, err := supervisor.New(zap.NewNop(), cfg, metrics.New())
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop() })

	h := NewSupervisorHandler(zap.NewNop(), sup)

	r := gin.New()
	api := r.Group("/api")
	api.GET("/health", h.Health)
	api.POST("/streams", h.CreateStream)
	api.DELETE("/streams/:name", h.DeleteStream)
	api.GET("/streams/:name/ready", h.StreamReady)
	api.POST("/streams/:name/record/start", h.StartRecording)
	api.POST("/streams/:name/record/stop", h.StopRecording)
	api.POST("/streams/:name/snapshot", h.Snapshot)
	api.PATCH("/config", h.UpdateConfig)
	return r
}

func doReq(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Contains(t, snap, "status")
	assert.Contains(t, snap, "circuit_open")
}

func TestCreateStream_returnsURLs(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodPost, "/api/streams",
		`{"name":"cam1","source":"rtsp://192.168.1.10/stream"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var urls map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &urls))
	assert.Contains(t, urls["rtsp_url"], "rtsp://")
	assert.Contains(t, urls["webrtc_url"], ":8889/cam1")
	assert.Contains(t, urls["hls_url"], ":8888/cam1")
}

func TestCreateStream_badBody(t *testing.T) {
	r := newTestRouter(t)

	for _, body := range []string{"", `{"name":`, `{"name":"x","bogus":1}`} {
		w := doReq(r, http.MethodPost, "/api/streams", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body: %q", body)
	}
}

func TestCreateStream_missingName(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodPost, "/api/streams", `{"source":"rtsp://x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "stream name is required")
}

func TestDeleteStream(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodDelete, "/api/streams/cam1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())
}

func TestStreamReady(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodGet, "/api/streams/cam1/ready?timeout=200ms", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ready":true}`, w.Body.String())
}

func TestStreamReady_badTimeout(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodGet, "/api/streams/cam1/ready?timeout=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordingLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	// Empty body is allowed: defaults apply.
	w := doReq(r, http.MethodPost, "/api/streams/cam1/record/start", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var sess map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "recording", sess["status"])

	// Duplicate start maps to 409.
	w = doReq(r, http.MethodPost, "/api/streams/cam1/record/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doReq(r, http.MethodPost, "/api/streams/cam1/record/stop", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "completed", res["status"])
	assert.Equal(t, false, res["file_exists"])

	// Stop again: nothing recording, 409.
	w = doReq(r, http.MethodPost, "/api/streams/cam1/record/stop", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSnapshot_alwaysTwoHundredWithStatus(t *testing.T) {
	r := newTestRouter(t)

	// The ffmpeg binary from DefaultConfig is not runnable in tests, so the
	// capture fails, but the handler still answers 200 with a failed status.
	w := doReq(r, http.MethodPost, "/api/streams/cam1/snapshot", `{"filename":"shot.jpg"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, []string{"completed", "failed"}, res["status"])
}

func TestUpdateConfig(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodPatch, "/api/config", `{"logLevel":"warn"}`)
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
}

func TestUpdateConfig_validationFailureIsBadRequest(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodPatch, "/api/config", `{"logLevel":"loud","bogusKey":1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown configuration keys: bogusKey")
	assert.Contains(t, w.Body.String(), "logLevel must be one of")
}

func TestErrorMapping_notFound(t *testing.T) {
	r := newTestRouter(t)

	w := doReq(r, http.MethodPost, "/api/streams/ghost/record/start", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
