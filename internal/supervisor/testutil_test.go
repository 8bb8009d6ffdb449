package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/metrics"
)

// fakeMediaServer is an in-memory stand-in for the media server's v3 API.
type fakeMediaServer struct {
	mu    sync.Mutex
	paths map[string]map[string]any
	ready map[string]bool

	addCalls    int
	patchCalls  int
	globalPatch []map[string]any

	failGlobalGet bool
}

func newFakeMediaServer() *fakeMediaServer {
	return &fakeMediaServer{
		paths: make(map[string]map[string]any),
		ready: make(map[string]bool),
	}
}

func (f *fakeMediaServer) setReady(name string, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready[name] = ready
}

func (f *fakeMediaServer) addPath(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[name] = map[string]any{}
}

func (f *fakeMediaServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v3/config/global/get", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.failGlobalGet
		f.mu.Unlock()
		if fail {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"logLevel":"info"}`))
	})

	mux.HandleFunc("PATCH /v3/config/global/patch", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.globalPatch = append(f.globalPatch, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		items := make([]map[string]any, 0, len(f.paths))
		for name := range f.paths {
			items = append(items, map[string]any{"name": name, "ready": f.ready[name]})
		}
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	mux.HandleFunc("POST /v3/config/paths/add/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.addCalls++
		if _, exists := f.paths[name]; exists {
			http.Error(w, "path already exists", http.StatusBadRequest)
			return
		}
		var conf map[string]any
		json.NewDecoder(r.Body).Decode(&conf)
		f.paths[name] = conf
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("PATCH /v3/config/paths/patch/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.patchCalls++
		conf, exists := f.paths[name]
		if !exists {
			http.Error(w, "path not found", http.StatusNotFound)
			return
		}
		var patch map[string]any
		json.NewDecoder(r.Body).Decode(&patch)
		for k, v := range patch {
			conf[k] = v
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("DELETE /v3/config/paths/delete/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.paths[name]; !exists {
			http.Error(w, "path not found", http.StatusNotFound)
			return
		}
		delete(f.paths, name)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

// newFakeServerTS serves the fake media server over a real listener.
func newFakeServerTS(t *testing.T, fake *fakeMediaServer) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)
	return ts
}

// testConfig points a default config at the given fake server with tight,
// deterministic timings.
func testConfig(t *testing.T, ts *httptest.Server) Config {
	t.Helper()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = u.Hostname()
	cfg.APIPort = port
	cfg.RecordingsDir = t.TempDir()
	cfg.SnapshotsDir = t.TempDir()
	cfg.APITimeout = 2 * time.Second
	cfg.ReadinessPollInterval = 10 * time.Millisecond

	cfg.Health.CheckInterval = 50 * time.Millisecond
	cfg.Health.MaxBackoffInterval = 200 * time.Millisecond
	cfg.Health.JitterLow = 1.0
	cfg.Health.JitterHigh = 1.0
	return cfg
}

// newTestSupervisor builds and starts a supervisor against the fake server.
func newTestSupervisor(t *testing.T, fake *fakeMediaServer) *Supervisor {
	t.Helper()

	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	sup, err := New(zap.NewNop(), testConfig(t, ts), metrics.New())
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop() })
	return sup
}
