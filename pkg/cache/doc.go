// Package cache provides the Chordbook multi-layer caching service with a
// Redis remote tier and an in-process fallback tier.
//
// The service implements two-tier caching with the following features:
//
// - Redis remote tier shared by all application instances
// - In-process fallback tier that keeps serving when Redis is unreachable
// - Tag-indexed bulk invalidation (exact, idempotent)
// - Pattern invalidation via cursor-based SCAN on the remote tier
// - TTL clamping against a configured ceiling
// - Transparent gzip compression of large payloads
// - Prometheus metrics plus a per-instance metrics snapshot
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache service
//	svc := cache.New(cache.DefaultConfig(), cache.NewRedisStore(redisClient, cache.DefaultConfig()))
//	defer svc.Close()
//
//	// Store a value tagged by the models it was computed from
//	err := svc.Set(ctx, "songs", "list:recent", songs, cache.SetOptions{
//		TTL:  time.Hour,
//		Tags: []string{"model:Song", "queries"},
//	})
//
//	// Read it back
//	var songs []Song
//	err = svc.Get(ctx, "songs", "list:recent", &songs)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - recompute
//	}
//
// # Failure Semantics
//
// Remote-tier errors never surface from Get or Set. A failing Redis call is
// logged at warn level, counted in metrics, and the operation continues
// against the fallback tier. Only a value that cannot be serialized at all
// fails a Set. A corrupted entry found on Get is treated as a miss.
//
// # Tag Invalidation
//
//	// Invalidate every entry tagged model:Song, across both tiers
//	removed, err := svc.InvalidateByTags(ctx, "model:Song")
//
// The tag index is process-local bookkeeping; deletions always propagate to
// the remote tier so invalidation is effective cluster-wide. Losing the
// index (restart) degrades invalidation precision but never yields stale
// hits beyond the entry TTL.
//
// # Metrics
//
// The service exports Prometheus metrics:
//
//   - chordbook_cache_hits_total{tier="redis"|"fallback"} - Cache hits by tier
//   - chordbook_cache_misses_total - Cache misses
//   - chordbook_cache_errors_total{operation} - Cache operation errors
//   - chordbook_cache_invalidations_total{method} - Bulk invalidations
//   - chordbook_cache_fallback_entries - Fallback tier occupancy
//   - chordbook_cache_op_duration_seconds{operation} - Operation latency
package cache
