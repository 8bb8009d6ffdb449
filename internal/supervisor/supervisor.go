// Package supervisor is the camera-service control plane core: it monitors
// an external MediaMTX-style media server through an adaptive circuit
// breaker and manages the lifecycle of streams, recordings and snapshots
// against that server and its FFmpeg helper processes.
package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgewatch/camd/internal/mediamtx"
	"github.com/edgewatch/camd/internal/metrics"
)

// Supervisor owns one shared media server client, one background health
// monitor, and the stream/recording/snapshot managers. All operations are
// safe for concurrent use; the recording session registry is the only
// serialized check-then-act section.
type Supervisor struct {
	log     *zap.Logger
	cfg     Config
	metrics *metrics.Metrics

	client     *mediamtx.Client
	health     *healthMonitor
	streams    *streamManager
	recordings *recordingManager
	snapshots  *snapshotManager
	validator  *configValidator

	started atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New wires a supervisor from its configuration. The shared HTTP client and
// managers are constructed here; nothing runs until Start.
func New(log *zap.Logger, cfg Config, m *metrics.Metrics) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor config: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}

	log = log.Named("supervisor")
	client := mediamtx.NewClient(log, cfg.Host, cfg.APIPort, cfg.APITimeout)
	streams := newStreamManager(log, cfg, client)

	return &Supervisor{
		log:        log,
		cfg:        cfg,
		metrics:    m,
		client:     client,
		health:     newHealthMonitor(log, cfg.Health, client, m),
		streams:    streams,
		recordings: newRecordingManager(log, cfg, client, streams, m),
		snapshots:  newSnapshotManager(log, cfg, streams, m),
		validator:  newConfigValidator(log, client),
	}, nil
}

// Start launches the health monitor for the supervisor's lifetime. The
// monitor runs detached from the caller's context; only Stop ends it.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return fmt.Errorf("supervisor already started: %w", ErrConflict)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.health.reset()
	s.group, runCtx = errgroup.WithContext(runCtx)
	s.group.Go(func() error { return s.health.run(runCtx) })

	s.log.Info("supervisor started",
		zap.String("media_server", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.APIPort)),
		zap.String("recordings_dir", s.cfg.RecordingsDir),
		zap.String("snapshots_dir", s.cfg.SnapshotsDir))
	return nil
}

// Stop cancels the health monitor, waits for it to observe cancellation,
// and closes the shared client. In-flight recordings are not auto-stopped;
// any call after Stop fails fast with ErrNotStarted instead of hanging.
func (s *Supervisor) Stop() error {
	if !s.started.Swap(false) {
		return nil
	}

	s.cancel()
	err := s.group.Wait()
	s.client.Close()
	s.log.Info("supervisor stopped")
	return err
}

// Health returns a read-only snapshot of the monitor's state.
func (s *Supervisor) Health() (HealthSnapshot, error) {
	if !s.started.Load() {
		return HealthSnapshot{}, ErrNotStarted
	}
	return s.health.Snapshot(), nil
}

// ValidateAndApply validates config updates against the static schema
// (accumulating every violation) and applies them to the media server.
func (s *Supervisor) ValidateAndApply(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return fmt.Errorf("configuration updates are required: %w", ErrInvalidInput)
	}
	if !s.started.Load() {
		return ErrNotStarted
	}
	return s.validator.ValidateAndApply(ctx, updates)
}

// CreateStream registers the descriptor's path on the media server and
// returns its playback URLs. Idempotent.
func (s *Supervisor) CreateStream(ctx context.Context, desc StreamDescriptor) (StreamURLs, error) {
	if !s.started.Load() {
		return StreamURLs{}, ErrNotStarted
	}
	return s.streams.Create(ctx, desc)
}

// DeleteStream removes the named path; a path that never existed yields
// (false, nil).
func (s *Supervisor) DeleteStream(ctx context.Context, name string) (bool, error) {
	if !s.started.Load() {
		return false, ErrNotStarted
	}
	return s.streams.Delete(ctx, name)
}

// CheckReadiness reports whether the named stream has an active publisher,
// polling up to timeout.
func (s *Supervisor) CheckReadiness(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("stream name is required: %w", ErrInvalidInput)
	}
	if !s.started.Load() {
		return false, ErrNotStarted
	}
	return s.streams.CheckReadiness(ctx, name, timeout)
}

// StartRecording begins a recording session for the named stream.
func (s *Supervisor) StartRecording(ctx context.Context, name string, duration time.Duration, format string) (*RecordingSession, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.recordings.Start(ctx, name, duration, format)
}

// StopRecording ends the named session and reports the output file state.
func (s *Supervisor) StopRecording(ctx context.Context, name string) (*StopResult, error) {
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	return s.recordings.Stop(ctx, name)
}

// CaptureSnapshot grabs one frame from the named stream. Every outcome,
// including a stopped supervisor, is a result value.
func (s *Supervisor) CaptureSnapshot(ctx context.Context, name, filename string) *SnapshotResult {
	if !s.started.Load() {
		res := &SnapshotResult{Stream: name, Filename: filename, Status: "failed", Error: ErrNotStarted.Error()}
		s.metrics.IncSnapshots(res.Status)
		return res
	}
	return s.snapshots.Capture(ctx, name, filename)
}

// URLs derives playback URLs without touching the media server.
func (s *Supervisor) URLs(name string) StreamURLs {
	return s.streams.URLs(name)
}
