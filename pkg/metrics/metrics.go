// Package metrics provides the centralized Prometheus metrics registry for
// cachekit. All metrics are defined in their respective packages (cache,
// etag) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by cachekit.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - chordbook_cache_hits_total{tier} (Counter): Cache hits by tier (redis, fallback)
//   - chordbook_cache_misses_total (Counter): Cache misses
//   - chordbook_cache_errors_total{operation} (Counter): Cache operation errors (get, set, delete, scan)
//   - chordbook_cache_invalidations_total{method} (Counter): Entries removed by bulk invalidation (tags, pattern)
//   - chordbook_cache_fallback_entries (Gauge): Current in-process fallback store occupancy
//   - chordbook_cache_op_duration_seconds{operation} (Histogram): Operation duration
//
// Remote Tier Metrics (pkg/cache):
//   - chordbook_cache_remote_available (Gauge): 1 when the remote tier is accepting operations, 0 during probation
//   - chordbook_cache_remote_probes_total (Counter): Probe attempts while the remote tier is on probation
//
// Conditional Response Metrics (pkg/etag):
//   - chordbook_etag_not_modified_total (Counter): 304 Not Modified responses served
//   - chordbook_etag_cached_responses_total (Counter): Full responses served from the endpoint cache
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(chordbook_cache_hits_total[5m])) /
//   (sum(rate(chordbook_cache_hits_total[5m])) + sum(rate(chordbook_cache_misses_total[5m])))
//
//   # Fallback Share of Hits (remote degradation indicator)
//   rate(chordbook_cache_hits_total{tier="fallback"}[5m]) /
//   sum(rate(chordbook_cache_hits_total[5m]))
//
//   # Remote Tier Availability
//   chordbook_cache_remote_available == 0
//
//   # P95 Read Latency
//   histogram_quantile(0.95, rate(chordbook_cache_op_duration_seconds_bucket{operation="get"}[5m]))
//
//   # 304 Response Rate
//   rate(chordbook_etag_not_modified_total[5m]) /
//   (rate(chordbook_etag_not_modified_total[5m]) + rate(chordbook_etag_cached_responses_total[5m]))
