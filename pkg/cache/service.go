package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetOptions controls a single write.
type SetOptions struct {
	// TTL is the requested entry lifetime. Zero means the configured
	// default; values above Config.MaxTTL are clamped.
	TTL time.Duration

	// Tags attach invalidation tags to the entry.
	Tags []string
}

// Health is the result of a HealthCheck.
type Health struct {
	Healthy           bool   `json:"healthy"`
	RemoteConnected   bool   `json:"remote_connected"`
	FallbackAvailable bool   `json:"fallback_available"`
	Error             string `json:"error,omitempty"`
}

// Report is the merged metrics view returned by Report.
type Report struct {
	Enabled         bool            `json:"enabled"`
	Counters        MetricsSnapshot `json:"counters"`
	Remote          RemoteStats     `json:"remote"`
	FallbackEntries int             `json:"fallback_entries"`
	TagCount        int             `json:"tag_count"`
}

// Service is the two-tier cache. All methods are safe for concurrent use.
type Service struct {
	cfg      Config
	remote   RemoteStore // nil when no remote tier is configured
	state    *remoteState
	fallback *fallbackStore
	tags     *tagIndex
	metrics  *Metrics
	logger   zerolog.Logger

	// now is swappable for tests
	now func() time.Time
}

// New creates a cache service. remote may be nil, in which case the service
// runs on the fallback tier alone. The service owns the remote store and
// closes it on Close.
func New(cfg Config, remote RemoteStore) *Service {
	logger := log.With().Str("component", "cache").Logger()
	now := time.Now

	return &Service{
		cfg:      cfg,
		remote:   remote,
		state:    newRemoteState(logger, now),
		fallback: newFallbackStore(cfg.FallbackMaxEntries, cfg.FallbackSweepInterval, now),
		tags:     newTagIndex(),
		metrics:  newMetrics(),
		logger:   logger,
		now:      now,
	}
}

// Close stops background work and releases the remote connection.
func (s *Service) Close() error {
	s.fallback.close()
	if s.remote != nil {
		return s.remote.Close()
	}
	return nil
}

// key composes the full cache key for a namespace and logical key.
func (s *Service) key(namespace, name string) string {
	return Key{Prefix: s.cfg.KeyPrefix, Namespace: namespace, Name: name}.String()
}

// Get reads a value into dest. It tries the remote tier first; any remote
// error is logged and the fallback tier is consulted instead. Returns
// ErrCacheMiss when neither tier has a live entry. Hit/miss counters and
// the latency average are updated exactly once per call.
func (s *Service) Get(ctx context.Context, namespace, name string, dest any) error {
	if !s.cfg.Enabled {
		return ErrCacheMiss
	}

	start := s.now()
	defer func() {
		d := s.now().Sub(start)
		s.metrics.recordLatency(d)
		OpDuration.WithLabelValues("get").Observe(d.Seconds())
	}()

	composed := s.key(namespace, name)

	entry, tier := s.lookup(ctx, composed)
	if entry == nil {
		s.metrics.recordMiss()
		CacheMisses.Inc()
		return ErrCacheMiss
	}

	if err := decodePayload(entry.Payload, entry.Compressed, dest); err != nil {
		// A corrupted entry must never crash a read path: drop it and
		// report a miss.
		s.logger.Warn().Err(err).Str("key", composed).Msg("Dropping undecodable cache entry")
		s.metrics.recordError()
		CacheErrors.WithLabelValues("get").Inc()
		s.evict(ctx, composed)
		s.metrics.recordMiss()
		CacheMisses.Inc()
		return ErrCacheMiss
	}

	s.metrics.recordHit()
	CacheHits.WithLabelValues(tier).Inc()
	return nil
}

// lookup finds a live entry in either tier without touching hit/miss
// counters. The returned tier is "redis" or "fallback".
func (s *Service) lookup(ctx context.Context, composed string) (*Entry, string) {
	if s.remote != nil && s.state.available() {
		data, err := s.remote.Get(ctx, composed)
		switch {
		case err == nil:
			s.state.recordSuccess()
			var entry Entry
			if uerr := json.Unmarshal(data, &entry); uerr != nil {
				s.logger.Warn().Err(uerr).Str("key", composed).Msg("Dropping invalid entry in remote tier")
				s.evict(ctx, composed)
				return nil, ""
			}
			if entry.IsExpired(s.now()) {
				// Redis TTL should have removed it; be defensive about skew.
				s.evict(ctx, composed)
				return nil, ""
			}
			return &entry, "redis"
		case IsRemoteMiss(err):
			// The remote tier is authoritative while reachable: a confirmed
			// miss is a miss, even if a stale fallback copy survives a
			// cluster-wide invalidation issued by another instance.
			s.state.recordSuccess()
			return nil, ""
		default:
			s.state.recordFailure()
			s.metrics.recordError()
			CacheErrors.WithLabelValues("get").Inc()
			s.logger.Warn().Err(err).Str("key", composed).Msg("Remote tier read failed, trying fallback")
		}
	}

	if entry, ok := s.fallback.get(composed); ok {
		return entry, "fallback"
	}
	return nil, ""
}

// Set serializes value and writes it to both tiers. The fallback tier is
// always written so failover stays warm while the remote tier is healthy.
// Only a serialization failure is returned; remote errors degrade silently.
func (s *Service) Set(ctx context.Context, namespace, name string, value any, opts SetOptions) error {
	if !s.cfg.Enabled {
		return nil
	}

	start := s.now()
	defer func() {
		OpDuration.WithLabelValues("set").Observe(s.now().Sub(start).Seconds())
	}()

	payload, compressed, err := encodePayload(value, s.cfg.Compression, s.cfg.CompressionThreshold)
	if err != nil {
		s.metrics.recordError()
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	ttl := s.cfg.effectiveTTL(opts.TTL)
	now := s.now()
	entry := &Entry{
		Payload:    payload,
		Compressed: compressed,
		ExpiresAt:  now.Add(ttl),
		Tags:       opts.Tags,
		CachedAt:   now,
	}

	composed := s.key(namespace, name)

	if s.remote != nil && s.state.available() {
		data, merr := json.Marshal(entry)
		if merr != nil {
			s.metrics.recordError()
			CacheErrors.WithLabelValues("set").Inc()
			return fmt.Errorf("marshal cache entry: %w", merr)
		}
		if rerr := s.remote.Set(ctx, composed, data, ttl); rerr != nil {
			s.state.recordFailure()
			s.metrics.recordError()
			CacheErrors.WithLabelValues("set").Inc()
			s.logger.Warn().Err(rerr).Str("key", composed).Msg("Remote tier write failed, fallback only")
		} else {
			s.state.recordSuccess()
		}
	}

	s.fallback.set(composed, entry)
	s.tags.add(composed, opts.Tags)

	s.metrics.recordSet()
	FallbackEntries.Set(float64(s.fallback.len()))
	return nil
}

// Delete removes a key from both tiers and prunes it from the tag index.
// Reports whether a live entry existed in either tier.
func (s *Service) Delete(ctx context.Context, namespace, name string) (bool, error) {
	if !s.cfg.Enabled {
		return false, nil
	}

	composed := s.key(namespace, name)
	deleted := s.evict(ctx, composed)

	s.metrics.recordDelete()
	FallbackEntries.Set(float64(s.fallback.len()))
	return deleted, nil
}

// evict removes a composed key from both tiers and the tag index.
func (s *Service) evict(ctx context.Context, composed string) bool {
	var deleted bool

	if s.remote != nil && s.state.available() {
		n, err := s.remote.Del(ctx, composed)
		if err != nil {
			s.state.recordFailure()
			s.metrics.recordError()
			CacheErrors.WithLabelValues("delete").Inc()
			s.logger.Warn().Err(err).Str("key", composed).Msg("Remote tier delete failed")
		} else {
			s.state.recordSuccess()
			deleted = n > 0
		}
	}

	if s.fallback.delete(composed) {
		deleted = true
	}

	s.tags.removeKey(composed)
	return deleted
}

// InvalidateByTags deletes every entry indexed under the given tags, in
// both tiers, and clears those tags from the index. Returns the number of
// distinct keys removed. Because it operates on exact keys this is the only
// bulk-invalidation path with no over- or under-matching; re-running it is
// a harmless no-op.
func (s *Service) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}

	seen := make(map[string]struct{})
	for _, tag := range tags {
		for _, key := range s.tags.take(tag) {
			seen[key] = struct{}{}
		}
	}

	count := 0
	for key := range seen {
		if s.evict(ctx, key) {
			count++
		}
	}

	if count > 0 {
		CacheInvalidations.WithLabelValues("tags").Add(float64(count))
		s.logger.Debug().Strs("tags", tags).Int("removed", count).Msg("Invalidated by tags")
	}
	FallbackEntries.Set(float64(s.fallback.len()))
	return count, nil
}

// InvalidatePattern deletes every key matching a glob pattern within a
// namespace. The remote tier matches the full glob via SCAN; the fallback
// tier only matches the pattern's literal prefix, a documented precision
// loss. Returns the number of distinct keys removed; a remote failure
// reports the keys actually removed rather than rolling back.
func (s *Service) InvalidatePattern(ctx context.Context, namespace, pattern string) (int, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}

	composed := s.key(namespace, pattern)
	seen := make(map[string]struct{})

	if s.remote != nil && s.state.available() {
		keys, err := s.remote.Scan(ctx, composed)
		if err != nil {
			s.state.recordFailure()
			s.metrics.recordError()
			CacheErrors.WithLabelValues("scan").Inc()
			s.logger.Warn().Err(err).Str("pattern", composed).Msg("Remote tier scan failed")
		} else {
			s.state.recordSuccess()
			if len(keys) > 0 {
				if _, derr := s.remote.Del(ctx, keys...); derr != nil {
					s.state.recordFailure()
					s.metrics.recordError()
					CacheErrors.WithLabelValues("delete").Inc()
					s.logger.Warn().Err(derr).Str("pattern", composed).Msg("Remote tier bulk delete failed")
				} else {
					for _, key := range keys {
						seen[key] = struct{}{}
					}
				}
			}
		}
	}

	for _, key := range s.fallback.deletePrefix(globPrefix(composed)) {
		seen[key] = struct{}{}
	}

	for key := range seen {
		s.tags.removeKey(key)
	}

	if len(seen) > 0 {
		CacheInvalidations.WithLabelValues("pattern").Add(float64(len(seen)))
	}
	FallbackEntries.Set(float64(s.fallback.len()))
	return len(seen), nil
}

// ClearAll removes every entry in a namespace, or the whole cache when
// namespace is empty.
func (s *Service) ClearAll(ctx context.Context, namespace string) (int, error) {
	return s.InvalidatePattern(ctx, namespace, "*")
}

// Warm populates an entry only if it is not already cached, so hot entries
// can be pre-computed at startup without branching on cache state.
func (s *Service) Warm(ctx context.Context, namespace, name string, opts SetOptions, compute func(context.Context) (any, error)) error {
	if !s.cfg.Enabled {
		return nil
	}

	composed := s.key(namespace, name)
	if entry, _ := s.lookup(ctx, composed); entry != nil {
		return nil
	}

	value, err := compute(ctx)
	if err != nil {
		return err
	}
	return s.Set(ctx, namespace, name, value, opts)
}

// GetOrSet is the read-through path: on a miss it computes the value,
// stores it, and decodes it into dest. A compute error propagates and
// nothing is cached.
func (s *Service) GetOrSet(ctx context.Context, namespace, name string, dest any, opts SetOptions, compute func(context.Context) (any, error)) error {
	err := s.Get(ctx, namespace, name, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	value, err := compute(ctx)
	if err != nil {
		return err
	}

	if err := s.Set(ctx, namespace, name, value, opts); err != nil {
		return err
	}

	// Round-trip through JSON so dest sees exactly what a later Get would.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal computed value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode computed value: %w", err)
	}
	return nil
}

// HealthCheck reports tier liveness. The fallback tier is in-process
// memory, so partial failure always degrades to "healthy but degraded"
// rather than unhealthy.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{FallbackAvailable: true}

	if s.remote != nil {
		if err := s.remote.Ping(ctx); err != nil {
			s.state.recordFailure()
			h.Error = err.Error()
		} else {
			s.state.recordSuccess()
			h.RemoteConnected = true
		}
	}

	h.Healthy = h.RemoteConnected || h.FallbackAvailable
	return h
}

// Report returns the merged metrics view: running counters, remote-tier
// stats, and fallback occupancy.
func (s *Service) Report(ctx context.Context) Report {
	r := Report{
		Enabled:         s.cfg.Enabled,
		Counters:        s.metrics.Snapshot(),
		FallbackEntries: s.fallback.len(),
		TagCount:        s.tags.size(),
	}

	if s.remote != nil && s.state.available() {
		stats, err := s.remote.Stats(ctx)
		if err != nil {
			s.state.recordFailure()
			s.logger.Warn().Err(err).Msg("Remote tier stats unavailable")
		} else {
			s.state.recordSuccess()
			r.Remote = stats
		}
	}

	return r
}

// globPrefix reduces a glob pattern to its literal prefix, used for
// fallback-tier matching.
func globPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
