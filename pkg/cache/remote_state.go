package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for remote-tier availability tracking.
var (
	remoteAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chordbook_cache_remote_available",
		Help: "Whether the remote cache tier is considered available (1) or in probation (0)",
	})

	remoteProbesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chordbook_cache_remote_probes_total",
		Help: "Total number of probe attempts against a remote tier in probation",
	})
)

// Thresholds for remote-tier availability decisions.
const (
	// remoteFailureThreshold puts the remote tier in probation after this
	// many consecutive failures, so a dead Redis is not hammered on every
	// request.
	remoteFailureThreshold = 3

	// remoteProbeInterval is how long to wait between probe attempts while
	// the remote tier is in probation.
	remoteProbeInterval = 15 * time.Second
)

// remoteState tracks remote-tier availability. While the tier is in
// probation, calls skip it entirely except for one probe per interval.
type remoteState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	downSince           time.Time
	lastProbe           time.Time
	logger              zerolog.Logger
	now                 func() time.Time
}

func newRemoteState(logger zerolog.Logger, now func() time.Time) *remoteState {
	remoteAvailable.Set(1)
	return &remoteState{
		logger: logger,
		now:    now,
	}
}

// available reports whether the remote tier should be tried. In probation
// it returns true once per probe interval so recovery is detected.
func (rs *remoteState) available() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.consecutiveFailures < remoteFailureThreshold {
		return true
	}

	now := rs.now()
	if now.Sub(rs.lastProbe) >= remoteProbeInterval {
		rs.lastProbe = now
		remoteProbesTotal.Inc()
		rs.logger.Debug().
			Time("down_since", rs.downSince).
			Msg("Probing remote cache tier in probation")
		return true
	}

	return false
}

// recordSuccess resets the failure streak, ending probation.
func (rs *remoteState) recordSuccess() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.consecutiveFailures >= remoteFailureThreshold {
		rs.logger.Info().
			Dur("downtime", rs.now().Sub(rs.downSince)).
			Msg("Remote cache tier recovered")
	}

	rs.consecutiveFailures = 0
	rs.downSince = time.Time{}
	remoteAvailable.Set(1)
}

// recordFailure increments the failure streak and starts probation once the
// threshold is crossed.
func (rs *remoteState) recordFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.consecutiveFailures++
	if rs.consecutiveFailures == remoteFailureThreshold {
		rs.downSince = rs.now()
		rs.lastProbe = rs.downSince
		remoteAvailable.Set(0)
		rs.logger.Warn().
			Int("consecutive_failures", rs.consecutiveFailures).
			Msg("Remote cache tier entering probation, serving from fallback")
	}
}

// healthy reports whether the remote tier is outside probation.
func (rs *remoteState) healthy() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.consecutiveFailures < remoteFailureThreshold
}
