package etag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/chordbook/cachekit/pkg/cache"
)

var (
	// NotModifiedResponses tracks 304 short-circuits
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chordbook_etag_not_modified_total",
			Help: "Total number of 304 Not Modified responses served",
		},
	)

	// CachedResponses tracks full responses served from cache without
	// re-invoking the handler
	CachedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chordbook_etag_cached_responses_total",
			Help: "Total number of responses served from cache with headers attached",
		},
	)
)

// KeyFunc derives the cache key for a request.
type KeyFunc func(r *http.Request) string

// MiddlewareOptions configures the endpoint cache.
type MiddlewareOptions struct {
	// Namespace groups the endpoint's entries; defaults to "http".
	Namespace string

	// TTL for cached responses; zero means the service default.
	TTL time.Duration

	// MaxAge is the Cache-Control max-age in seconds.
	MaxAge int

	// Tags attach invalidation tags, typically model:<Name> for the models
	// the endpoint reads.
	Tags []string
}

// responseRecorder buffers a handler's output so headers can still be
// attached once the body, and therefore the fingerprint, is known.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

// Middleware caches GET responses per request-derived key. Per request the
// outcome is one of: a 304 when the entry is cached and the client's
// fingerprint is current, the cached body with headers when the client is
// stale, or a freshly computed response that is cached on the way out.
func Middleware(svc *cache.Service, keyFn KeyFunc, opts MiddlewareOptions) func(http.Handler) http.Handler {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "http"
	}
	cacheControl := fmt.Sprintf("public, max-age=%d", opts.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			cached, err := Lookup(r.Context(), svc, namespace, key)
			if err == nil {
				if MatchesClientCache(cached.ETag, r.Header.Get("If-None-Match")) {
					NotModifiedResponses.Inc()
					WriteNotModified(w, cached.ETag)
					return
				}

				// Client is stale: serve the cached body, no recomputation.
				CachedResponses.Inc()
				w.Header().Set("ETag", cached.ETag)
				w.Header().Set("Cache-Control", cacheControl)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write(cached.Value)
				return
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				log.Warn().Err(err).Str("key", key).Msg("Endpoint cache lookup failed")
			}

			// Miss: invoke the handler against a buffer so the fingerprint
			// can be attached before anything is sent.
			rec := newResponseRecorder()
			next.ServeHTTP(rec, r)

			for name, values := range rec.header {
				for _, v := range values {
					w.Header().Add(name, v)
				}
			}

			// Only successful JSON bodies are cacheable.
			if rec.status != http.StatusOK || !json.Valid(rec.body.Bytes()) {
				w.WriteHeader(rec.status)
				w.Write(rec.body.Bytes())
				return
			}

			fingerprint, err := CacheAndFingerprint(r.Context(), svc, namespace, key, json.RawMessage(rec.body.Bytes()), cache.SetOptions{
				TTL:  opts.TTL,
				Tags: opts.Tags,
			})
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Endpoint cache store failed")
				w.WriteHeader(rec.status)
				w.Write(rec.body.Bytes())
				return
			}

			if MatchesClientCache(fingerprint, r.Header.Get("If-None-Match")) {
				NotModifiedResponses.Inc()
				WriteNotModified(w, fingerprint)
				return
			}

			w.Header().Set("ETag", fingerprint)
			w.Header().Set("Cache-Control", cacheControl)
			w.WriteHeader(http.StatusOK)
			w.Write(rec.body.Bytes())
		})
	}
}

// RequestKey is the default key function: the request path plus its raw
// query string.
func RequestKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}
