package supervisor

import (
	"fmt"
	"time"

	"github.com/edgewatch/camd/pkg/hostutil"
)

// Config holds the supervisor's immutable startup parameters. It is copied
// at construction and never mutated afterwards.
type Config struct {
	// Media server endpoint.
	Host       string
	APIPort    int
	RTSPPort   int
	WebRTCPort int
	HLSPort    int

	// Media server config file (informational; the server owns it).
	ConfigPath string

	// Output directories.
	RecordingsDir string
	SnapshotsDir  string

	// Capture helper binary; empty means "ffmpeg" on PATH.
	FFmpegBin string

	// Per-request timeout for media server API calls.
	APITimeout time.Duration

	// Poll cadence for stream readiness checks.
	ReadinessPollInterval time.Duration

	// Snapshot process lifetime: total capture budget, then SIGTERM grace,
	// then post-SIGKILL reap wait.
	SnapshotTimeout  time.Duration
	TerminateTimeout time.Duration
	KillTimeout      time.Duration

	Health HealthConfig
}

// HealthConfig tunes the background health monitor.
type HealthConfig struct {
	// Base poll interval while healthy.
	CheckInterval time.Duration

	// Consecutive failures required to open the circuit breaker.
	FailureThreshold int

	// Fixed wait after the breaker opens, before the first recovery probe.
	CircuitBreakerTimeout time.Duration

	// Backoff interval cap and growth factor.
	MaxBackoffInterval time.Duration
	BackoffMultiplier  float64

	// Uniform jitter range applied to backoff intervals. [1, 1] yields
	// deterministic backoff.
	JitterLow  float64
	JitterHigh float64

	// Consecutive successes required to close an open breaker.
	RecoveryThreshold int
}

// DefaultConfig returns the stock supervisor configuration for a local
// MediaMTX-style server on default ports.
func DefaultConfig() Config {
	return Config{
		Host:       "127.0.0.1",
		APIPort:    9997,
		RTSPPort:   8554,
		WebRTCPort: 8889,
		HLSPort:    8888,

		RecordingsDir: "/var/lib/camd/recordings",
		SnapshotsDir:  "/var/lib/camd/snapshots",

		APITimeout:            5 * time.Second,
		ReadinessPollInterval: 500 * time.Millisecond,

		SnapshotTimeout:  10 * time.Second,
		TerminateTimeout: 3 * time.Second,
		KillTimeout:      2 * time.Second,

		Health: HealthConfig{
			CheckInterval:         5 * time.Second,
			FailureThreshold:      3,
			CircuitBreakerTimeout: 30 * time.Second,
			MaxBackoffInterval:    60 * time.Second,
			BackoffMultiplier:     2.0,
			JitterLow:             0.8,
			JitterHigh:            1.2,
			RecoveryThreshold:     3,
		},
	}
}

// Validate rejects configurations that cannot produce a working supervisor.
func (c *Config) Validate() error {
	if err := hostutil.ValidateHost(c.Host); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	for _, p := range []struct {
		name string
		port int
	}{
		{"api_port", c.APIPort},
		{"rtsp_port", c.RTSPPort},
		{"webrtc_port", c.WebRTCPort},
		{"hls_port", c.HLSPort},
	} {
		if err := hostutil.ValidatePort(p.port); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if c.RecordingsDir == "" {
		return fmt.Errorf("recordings_dir is required")
	}
	if c.SnapshotsDir == "" {
		return fmt.Errorf("snapshots_dir is required")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive")
	}
	if c.SnapshotTimeout <= 0 || c.TerminateTimeout <= 0 || c.KillTimeout <= 0 {
		return fmt.Errorf("snapshot timeouts must be positive")
	}
	return c.Health.validate()
}

func (h *HealthConfig) validate() error {
	if h.CheckInterval <= 0 {
		return fmt.Errorf("health.check_interval must be positive")
	}
	if h.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be >= 1")
	}
	if h.CircuitBreakerTimeout <= 0 {
		return fmt.Errorf("health.circuit_breaker_timeout must be positive")
	}
	if h.MaxBackoffInterval < h.CheckInterval {
		return fmt.Errorf("health.max_backoff_interval must be >= health.check_interval")
	}
	if h.BackoffMultiplier < 1 {
		return fmt.Errorf("health.backoff_multiplier must be >= 1")
	}
	if h.JitterLow <= 0 || h.JitterHigh < h.JitterLow {
		return fmt.Errorf("health.jitter range must satisfy 0 < low <= high")
	}
	if h.RecoveryThreshold < 1 {
		return fmt.Errorf("health.recovery_threshold must be >= 1")
	}
	return nil
}
