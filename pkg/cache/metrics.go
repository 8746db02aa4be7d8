package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (redis, fallback)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chordbook_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"}, // "redis", "fallback"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chordbook_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chordbook_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate", "scan"
	)

	// CacheInvalidations tracks bulk invalidations by method
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chordbook_cache_invalidations_total",
			Help: "Total number of keys removed by bulk invalidation",
		},
		[]string{"method"}, // "tags", "pattern"
	)

	// FallbackEntries tracks fallback tier occupancy
	FallbackEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chordbook_cache_fallback_entries",
			Help: "Current number of entries in the in-process fallback tier",
		},
	)

	// OpDuration tracks per-operation latency
	OpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chordbook_cache_op_duration_seconds",
			Help:    "Cache operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// latencyAlpha is the smoothing factor of the per-instance latency EWMA.
const latencyAlpha = 0.2

// Metrics holds per-instance running counters. They reset on process
// restart and are never persisted.
type Metrics struct {
	mu         sync.Mutex
	hits       int64
	misses     int64
	sets       int64
	deletes    int64
	errors     int64
	avgLatency time.Duration
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordHit()    { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *Metrics) recordMiss()   { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *Metrics) recordSet()    { m.mu.Lock(); m.sets++; m.mu.Unlock() }
func (m *Metrics) recordDelete() { m.mu.Lock(); m.deletes++; m.mu.Unlock() }
func (m *Metrics) recordError()  { m.mu.Lock(); m.errors++; m.mu.Unlock() }

// recordLatency folds one operation duration into the moving average.
func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.avgLatency == 0 {
		m.avgLatency = d
		return
	}
	m.avgLatency = time.Duration((1-latencyAlpha)*float64(m.avgLatency) + latencyAlpha*float64(d))
}

// MetricsSnapshot is a point-in-time copy of the running counters.
type MetricsSnapshot struct {
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Sets       int64         `json:"sets"`
	Deletes    int64         `json:"deletes"`
	Errors     int64         `json:"errors"`
	HitRate    float64       `json:"hit_rate"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// Snapshot returns a consistent copy of the counters.
// HitRate is hits/(hits+misses), 0 when no reads have happened.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Hits:       m.hits,
		Misses:     m.misses,
		Sets:       m.sets,
		Deletes:    m.deletes,
		Errors:     m.errors,
		AvgLatency: m.avgLatency,
	}
	if total := m.hits + m.misses; total > 0 {
		snap.HitRate = float64(m.hits) / float64(total)
	}
	return snap
}
