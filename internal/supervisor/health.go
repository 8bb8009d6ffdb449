package supervisor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/mediamtx"
	"github.com/edgewatch/camd/internal/metrics"
)

// HealthStatus is the monitor's explicit state, derived from the counters
// at every transition.
type HealthStatus string

const (
	// StatusHealthy: no consecutive failures, breaker closed.
	StatusHealthy HealthStatus = "healthy"
	// StatusDegraded: failing but below the breaker threshold.
	StatusDegraded HealthStatus = "degraded"
	// StatusCircuitOpen: breaker open, recovery not yet confirmed.
	StatusCircuitOpen HealthStatus = "circuit_open"
)

// HealthSnapshot is an immutable copy of the monitor's state. Readers get
// eventually-consistent snapshots; the monitor alone mutates the record.
type HealthSnapshot struct {
	Status                    HealthStatus `json:"status"`
	TotalChecks               int64        `json:"total_checks"`
	ConsecutiveFailures       int          `json:"consecutive_failures"`
	CircuitOpen               bool         `json:"circuit_open"`
	CircuitBreakerActivations int64        `json:"circuit_breaker_activations"`
	RecoveryCount             int64        `json:"recovery_count"`
	RecoverySuccesses         int          `json:"consecutive_successes_during_recovery"`
	LastSuccessTime           time.Time    `json:"last_success_time"`
}

// healthMonitor polls the media server's status endpoint for the
// supervisor's entire lifetime. It implements the failure-threshold /
// circuit-breaker / backoff-with-jitter / recovery-confirmation state
// machine over one mutable health record.
//
// Probe failures never propagate to callers; they are absorbed into the
// state record and logs.
type healthMonitor struct {
	log     *zap.Logger
	cfg     HealthConfig
	client  *mediamtx.Client
	metrics *metrics.Metrics

	mu    sync.Mutex
	state HealthSnapshot
	rng   *rand.Rand // jitter source; guarded by mu
}

func newHealthMonitor(log *zap.Logger, cfg HealthConfig, client *mediamtx.Client, m *metrics.Metrics) *healthMonitor {
	return &healthMonitor{
		log:     log.Named("health"),
		cfg:     cfg,
		client:  client,
		metrics: m,
		state:   HealthSnapshot{Status: StatusHealthy},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// reset discards the health record. The record lives from Start to Stop;
// a restarted supervisor begins a fresh episode.
func (m *healthMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = HealthSnapshot{Status: StatusHealthy}
}

// Snapshot returns a copy of the current health record.
func (m *healthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// run is the poll loop. It never stops on its own; only ctx cancellation
// (supervisor shutdown) ends it, observed within one poll sleep.
func (m *healthMonitor) run(ctx context.Context) error {
	m.log.Info("health monitor started",
		zap.Duration("check_interval", m.cfg.CheckInterval),
		zap.Int("failure_threshold", m.cfg.FailureThreshold))

	timer := time.NewTimer(0) // first probe immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("health monitor stopped")
			return nil
		case <-timer.C:
		}
		timer.Reset(m.check(ctx))
	}
}

// check performs one probe and applies the state machine, returning the
// sleep interval before the next probe.
func (m *healthMonitor) check(ctx context.Context) time.Duration {
	// The client tags the probe with a fresh correlation ID.
	_, err := m.client.GlobalConfig(ctx)
	m.metrics.IncHealthChecks(err != nil)

	if err != nil {
		return m.onFailure(err)
	}
	return m.onSuccess()
}

// onSuccess applies the success transitions:
//
//  1. consecutive failures reset, last success recorded
//  2. breaker open: one more confirmation; at the threshold the breaker
//     closes and the recovery counts as complete
//  3. breaker closed: nothing special, base cadence
func (m *healthMonitor) onSuccess() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.state
	s.TotalChecks++
	s.ConsecutiveFailures = 0
	s.LastSuccessTime = time.Now()

	if !s.CircuitOpen {
		s.Status = StatusHealthy
		return m.cfg.CheckInterval
	}

	s.RecoverySuccesses++
	if s.RecoverySuccesses >= m.cfg.RecoveryThreshold {
		s.CircuitOpen = false
		s.RecoveryCount++
		s.RecoverySuccesses = 0
		s.Status = StatusHealthy
		m.metrics.IncRecoveries()
		m.log.Info("media server fully recovered, circuit breaker closed",
			zap.Int64("recovery_count", s.RecoveryCount))
	} else {
		s.Status = StatusCircuitOpen
		m.log.Info("media server improving",
			zap.Int("confirmations", s.RecoverySuccesses),
			zap.Int("required", m.cfg.RecoveryThreshold))
	}

	// Probe again at base cadence so recovery confirms quickly.
	return m.cfg.CheckInterval
}

// onFailure applies the failure transitions:
//
//  1. consecutive failures advance
//  2. breaker open: confirmation progress is erased, but the breaker is not
//     re-armed with a fresh fixed wait; recovery continues at backoff cadence
//  3. breaker closed, threshold reached: the breaker opens exactly once per
//     episode and the fixed circuit-breaker wait applies
//  4. breaker closed, below threshold: backoff cadence
func (m *healthMonitor) onFailure(probeErr error) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.state
	s.TotalChecks++
	s.ConsecutiveFailures++

	if s.CircuitOpen {
		s.RecoverySuccesses = 0
		s.Status = StatusCircuitOpen
		next := m.backoffLocked(s.ConsecutiveFailures)
		m.log.Warn("media server still degraded during recovery",
			zap.Int("consecutive_failures", s.ConsecutiveFailures),
			zap.Duration("next_check", next),
			zap.Error(probeErr))
		return next
	}

	if s.ConsecutiveFailures >= m.cfg.FailureThreshold {
		s.CircuitOpen = true
		s.CircuitBreakerActivations++
		s.RecoverySuccesses = 0
		s.Status = StatusCircuitOpen
		m.metrics.IncCircuitBreaker()
		m.log.Error("circuit breaker opened",
			zap.Int("consecutive_failures", s.ConsecutiveFailures),
			zap.Int64("activations", s.CircuitBreakerActivations),
			zap.Duration("wait", m.cfg.CircuitBreakerTimeout),
			zap.Error(probeErr))
		return m.cfg.CircuitBreakerTimeout
	}

	s.Status = StatusDegraded
	next := m.backoffLocked(s.ConsecutiveFailures)
	m.log.Warn("media server degraded",
		zap.Int("consecutive_failures", s.ConsecutiveFailures),
		zap.Int("failure_threshold", m.cfg.FailureThreshold),
		zap.Duration("next_check", next),
		zap.Error(probeErr))
	return next
}

// backoffLocked computes
//
//	min(maxBackoff, checkInterval * multiplier^failures) * jitter
//
// with jitter drawn uniformly from [JitterLow, JitterHigh]. The exponent is
// the current consecutive-failure count, so the first failure already takes
// one multiplier step. Callers hold m.mu (for the jitter source).
func (m *healthMonitor) backoffLocked(failures int) time.Duration {
	base := float64(m.cfg.CheckInterval) * math.Pow(m.cfg.BackoffMultiplier, float64(failures))
	if capped := float64(m.cfg.MaxBackoffInterval); base > capped {
		base = capped
	}
	jitter := m.cfg.JitterLow + m.rng.Float64()*(m.cfg.JitterHigh-m.cfg.JitterLow)
	return time.Duration(base * jitter)
}
