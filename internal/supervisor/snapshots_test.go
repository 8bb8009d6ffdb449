package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/metrics"
)

// writeStub drops an executable shell script standing in for ffmpeg.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

// The real invocation puts the destination file last; the stub mirrors that.
const captureStub = `for a in "$@"; do out="$a"; done
echo frame > "$out"
`

func snapshotSupervisor(t *testing.T, bin string) *Supervisor {
	t.Helper()

	ts := newFakeServerTS(t, newFakeMediaServer())
	cfg := testConfig(t, ts)
	cfg.FFmpegBin = bin
	cfg.SnapshotTimeout = 500 * time.Millisecond
	cfg.TerminateTimeout = 200 * time.Millisecond
	cfg.KillTimeout = 200 * time.Millisecond

	sup, err := New(zap.NewNop(), cfg, metrics.New())
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop() })
	return sup
}

func TestCaptureSnapshot_success(t *testing.T) {
	sup := snapshotSupervisor(t, writeStub(t, captureStub))

	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	require.Equal(t, "completed", res.Status, "error: %s", res.Error)
	assert.Equal(t, "cam1", res.Stream)
	assert.Equal(t, "shot.jpg", res.Filename)
	assert.Greater(t, res.FileSize, int64(0))
	assert.FileExists(t, res.FilePath)
	assert.Empty(t, res.Error)
}

func TestCaptureSnapshot_emptyStreamName(t *testing.T) {
	sup := snapshotSupervisor(t, writeStub(t, captureStub))

	res := sup.CaptureSnapshot(context.Background(), "", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "stream name is required")
}

func TestCaptureSnapshot_emptyFilename(t *testing.T) {
	sup := snapshotSupervisor(t, writeStub(t, captureStub))

	res := sup.CaptureSnapshot(context.Background(), "cam1", "")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "filename is required")
}

func TestCaptureSnapshot_unwritableDirectory(t *testing.T) {
	ts := newFakeServerTS(t, newFakeMediaServer())
	cfg := testConfig(t, ts)
	cfg.FFmpegBin = writeStub(t, captureStub)

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.SnapshotsDir = filepath.Join(blocker, "snapshots")

	sup, err := New(zap.NewNop(), cfg, metrics.New())
	require.NoError(t, err)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop() })

	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "cannot write to snapshots directory")
}

func TestCaptureSnapshot_missingBinary(t *testing.T) {
	sup := snapshotSupervisor(t, filepath.Join(t.TempDir(), "no-such-ffmpeg"))

	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "failed to start capture process")
}

func TestCaptureSnapshot_processFailureCarriesStderr(t *testing.T) {
	sup := snapshotSupervisor(t, writeStub(t, `echo "connection refused" >&2
exit 1
`))

	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "capture process failed")
	assert.Contains(t, res.Error, "connection refused")
	assert.EqualValues(t, 0, res.FileSize)
}

func TestCaptureSnapshot_emptyOutputIsFailure(t *testing.T) {
	// Exits cleanly but never writes the frame.
	sup := snapshotSupervisor(t, writeStub(t, "exit 0\n"))

	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "capture produced no output file")
}

func TestCaptureSnapshot_timeout(t *testing.T) {
	sup := snapshotSupervisor(t, writeStub(t, "sleep 10\n"))

	start := time.Now()
	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "timeout after")
	assert.Less(t, time.Since(start), 5*time.Second, "stuck process must be reaped, not waited out")
}

func TestCaptureSnapshot_contextCancellation(t *testing.T) {
	sup := snapshotSupervisor(t, writeStub(t, "sleep 10\n"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := sup.CaptureSnapshot(ctx, "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "capture canceled")
}

func TestCaptureSnapshot_notStarted(t *testing.T) {
	sup, err := New(zap.NewNop(), DefaultConfig(), metrics.New())
	require.NoError(t, err)

	res := sup.CaptureSnapshot(context.Background(), "cam1", "shot.jpg")
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, ErrNotStarted.Error(), res.Error)
}
