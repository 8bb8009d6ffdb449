package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/metrics"
	"github.com/edgewatch/camd/pkg/ffmpegcmd"
)

// SnapshotResult is the outcome of one capture call. Operational failures
// are folded into Status "failed" with a descriptive Error; capture failure
// is an expected, frequent outcome and never surfaces as a Go error.
type SnapshotResult struct {
	Stream   string `json:"stream"`
	Filename string `json:"filename"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
	Status   string `json:"status"` // "completed" | "failed"
	Error    string `json:"error,omitempty"`
}

// snapshotManager captures single frames by spawning one bounded-lifetime
// FFmpeg process per call. Concurrent captures for different streams share
// no mutable state beyond the filesystem.
type snapshotManager struct {
	log     *zap.Logger
	cfg     Config
	streams *streamManager
	metrics *metrics.Metrics
}

func newSnapshotManager(log *zap.Logger, cfg Config, streams *streamManager, m *metrics.Metrics) *snapshotManager {
	return &snapshotManager{log: log.Named("snapshots"), cfg: cfg, streams: streams, metrics: m}
}

// Capture pulls exactly one frame from the stream's RTSP endpoint into the
// snapshots directory. The helper process lives in its own process group
// and is reaped on every exit path: success, failure, timeout, cancellation.
func (s *snapshotManager) Capture(ctx context.Context, name, filename string) *SnapshotResult {
	res := &SnapshotResult{Stream: name, Filename: filename, Status: "failed"}
	defer func() { s.metrics.IncSnapshots(res.Status) }()

	if name == "" {
		res.Error = "stream name is required"
		return res
	}
	if filename == "" {
		res.Error = "filename is required"
		return res
	}

	if err := ensureWritableDir(s.cfg.SnapshotsDir); err != nil {
		res.Error = fmt.Sprintf("cannot write to snapshots directory: %v", err)
		return res
	}

	dest := filepath.Join(s.cfg.SnapshotsDir, filename)
	res.FilePath = dest

	rtspURL := s.streams.URLs(name).RTSP
	argv := ffmpegcmd.SnapshotArgv(s.cfg.FFmpegBin, rtspURL, dest)

	cmd := exec.Command(argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Own process group so terminate/kill reaches ffmpeg's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	log := s.log.With(zap.String("stream", name), zap.String("dest", dest))
	log.Debug("starting capture process", zap.Strings("argv", argv))

	if err := cmd.Start(); err != nil {
		res.Error = fmt.Sprintf("failed to start capture process: %v", err)
		return res
	}
	pid := cmd.Process.Pid

	// The single Wait both reaps the child and unblocks every exit path.
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:

	case <-ctx.Done():
		s.reap(log, pid, done)
		res.Error = fmt.Sprintf("capture canceled: %v", ctx.Err())
		return res

	case <-time.After(s.cfg.SnapshotTimeout):
		s.reap(log, pid, done)
		res.Error = fmt.Sprintf("timeout after %s waiting for capture", s.cfg.SnapshotTimeout)
		return res
	}

	if waitErr != nil {
		res.Error = fmt.Sprintf("capture process failed: %v: %s", waitErr, stderrTail(&stderr))
		log.Warn("capture process failed", zap.Error(waitErr))
		return res
	}

	fi, err := os.Stat(dest)
	if err != nil || fi.Size() == 0 {
		res.Error = fmt.Sprintf("capture produced no output file: %s", stderrTail(&stderr))
		return res
	}

	res.Status = "completed"
	res.FileSize = fi.Size()
	log.Info("snapshot captured", zap.Int64("file_size", res.FileSize))
	return res
}

// reap performs deterministic shutdown of a straggling capture process:
// SIGTERM to the process group, grace wait, then SIGKILL, then a bounded
// wait for the reaping goroutine. The process handle is never leaked: the
// Wait goroutine stays pending until the kernel releases the child.
func (s *snapshotManager) reap(log *zap.Logger, pid int, done <-chan error) {
	log.Warn("terminating capture process", zap.Int("pid", pid))

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		log.Warn("SIGTERM failed", zap.Int("pid", pid), zap.Error(err))
	}
	select {
	case <-done:
		log.Info("capture process exited after SIGTERM", zap.Int("pid", pid))
		return
	case <-time.After(s.cfg.TerminateTimeout):
	}

	log.Warn("grace timeout expired; sending SIGKILL", zap.Int("pid", pid))
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		log.Error("SIGKILL failed", zap.Int("pid", pid), zap.Error(err))
	}
	select {
	case <-done:
	case <-time.After(s.cfg.KillTimeout):
		log.Error("capture process still alive after SIGKILL", zap.Int("pid", pid))
	}
}

// stderrTail returns the last chunk of the helper's diagnostic output.
func stderrTail(buf *bytes.Buffer) string {
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "(no diagnostic output)"
	}
	const max = 512
	if len(out) > max {
		out = "..." + out[len(out)-max:]
	}
	return out
}
