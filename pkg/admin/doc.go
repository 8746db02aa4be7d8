// Package admin exposes the cache management HTTP API: health and metrics
// reads, bulk clearing, warm-up triggers, and an analytics summary. The
// handler is mounted by the host application next to its own routes and
// guarded by whatever auth the host already has; this package does no
// authentication itself.
package admin
