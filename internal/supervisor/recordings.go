package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/mediamtx"
	"github.com/edgewatch/camd/internal/metrics"
)

// RecordingSession is one in-progress recording. At most one session exists
// per stream name.
type RecordingSession struct {
	Stream    string    `json:"stream"`
	StartTime time.Time `json:"start_time"`
	Format    string    `json:"format"`
	FilePath  string    `json:"file_path"`
	Status    string    `json:"status"` // "recording" until stopped

	timer *time.Timer // auto-stop, nil for unbounded sessions
}

// StopResult reports the outcome of stopping a recording. File absence is
// reported, not raised: Status is "completed" either way.
type StopResult struct {
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	FileExists bool          `json:"file_exists"`
	FileSize   int64         `json:"file_size"`
	Filename   string        `json:"filename"`
}

// recordingManager starts and stops timed recording sessions tied to a
// stream. The session registry is the one place that serializes
// check-then-act access: two concurrent starts on the same name cannot both
// win.
type recordingManager struct {
	log     *zap.Logger
	cfg     Config
	client  *mediamtx.Client
	streams *streamManager
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*RecordingSession
}

func newRecordingManager(log *zap.Logger, cfg Config, client *mediamtx.Client, streams *streamManager, m *metrics.Metrics) *recordingManager {
	return &recordingManager{
		log:      log.Named("recordings"),
		cfg:      cfg,
		client:   client,
		streams:  streams,
		metrics:  m,
		sessions: make(map[string]*RecordingSession),
	}
}

// Start begins a recording session for the named stream. duration == 0
// records until Stop; otherwise the session auto-stops after duration.
//
// Hard failures: empty name, duplicate session, stream absent from the
// media server, unwritable recordings directory.
func (r *recordingManager) Start(ctx context.Context, name string, duration time.Duration, format string) (*RecordingSession, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name is required: %w", ErrInvalidInput)
	}
	if format == "" {
		format = "mp4"
	}

	// Setup-time resource failure propagates to the caller.
	if err := ensureWritableDir(r.cfg.RecordingsDir); err != nil {
		return nil, fmt.Errorf("recordings directory not writable: %w", err)
	}

	sess := &RecordingSession{
		Stream:    name,
		Format:    format,
		FilePath:  filepath.Join(r.cfg.RecordingsDir, name+"."+format),
		Status:    "recording",
		StartTime: time.Now(),
	}

	// Reserve the name before any I/O so a concurrent Start loses here,
	// not after both enabled recording upstream.
	r.mu.Lock()
	if _, exists := r.sessions[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("stream %q is already recording: %w", name, ErrConflict)
	}
	r.sessions[name] = sess
	r.mu.Unlock()

	exists, err := r.streams.Exists(ctx, name)
	if err == nil && !exists {
		err = fmt.Errorf("stream %q: %w", name, ErrNotFound)
	}
	if err == nil {
		err = r.client.PatchPath(ctx, name, map[string]any{"record": true})
	}
	if err != nil {
		r.release(name)
		return nil, fmt.Errorf("start recording: %w", err)
	}

	sess.StartTime = time.Now()
	if duration > 0 {
		sess.timer = time.AfterFunc(duration, func() { r.autoStop(name) })
	}

	r.metrics.SetRecordingsActive(r.count())
	r.log.Info("recording started",
		zap.String("stream", name),
		zap.String("file", sess.FilePath),
		zap.Duration("duration", duration))
	return sess, nil
}

// Stop ends the named session, computes its duration and probes the
// expected output file. A missing file (or a permission error while
// probing) degrades into file_exists=false, file_size=0.
func (r *recordingManager) Stop(ctx context.Context, name string) (*StopResult, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name is required: %w", ErrInvalidInput)
	}

	r.mu.Lock()
	sess, ok := r.sessions[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("stream %q is not recording: %w", name, ErrConflict)
	}
	delete(r.sessions, name)
	r.mu.Unlock()

	if sess.timer != nil {
		sess.timer.Stop()
	}
	duration := time.Since(sess.StartTime)

	// Teardown is best-effort: a failing disable must not block the stop.
	if err := r.client.PatchPath(ctx, name, map[string]any{"record": false}); err != nil {
		r.log.Warn("disable recording on media server failed",
			zap.String("stream", name), zap.Error(err))
	}

	var fileExists bool
	var fileSize int64
	if fi, err := os.Stat(sess.FilePath); err == nil {
		fileExists = true
		fileSize = fi.Size()
	}

	sess.Status = "completed"
	r.metrics.SetRecordingsActive(r.count())
	r.log.Info("recording stopped",
		zap.String("stream", name),
		zap.Duration("duration", duration),
		zap.Bool("file_exists", fileExists),
		zap.Int64("file_size", fileSize))

	return &StopResult{
		Status:     "completed",
		Duration:   duration,
		FileExists: fileExists,
		FileSize:   fileSize,
		Filename:   filepath.Base(sess.FilePath),
	}, nil
}

// Session returns the active session for name, if any.
func (r *recordingManager) Session(name string) (*RecordingSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[name]
	return sess, ok
}

// autoStop runs when a timed session's duration elapses.
func (r *recordingManager) autoStop(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.APITimeout)
	defer cancel()

	res, err := r.Stop(ctx, name)
	if err != nil {
		// Already stopped by hand; nothing to do.
		r.log.Debug("auto-stop skipped", zap.String("stream", name), zap.Error(err))
		return
	}
	r.log.Info("recording auto-stopped",
		zap.String("stream", name),
		zap.Duration("duration", res.Duration),
		zap.Bool("file_exists", res.FileExists))
}

func (r *recordingManager) release(name string) {
	r.mu.Lock()
	delete(r.sessions, name)
	r.mu.Unlock()
}

func (r *recordingManager) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
