package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chordbook/cachekit/pkg/cache"
)

// WarmSource produces the entries to pre-populate for one warmable type
// (e.g. "songs", "setlists"). Sources are registered by the host
// application and resolved by name in warm requests.
type WarmSource func(ctx context.Context) ([]cache.WarmEntry, error)

// Handler serves the cache management API.
type Handler struct {
	svc     *cache.Service
	warmer  *cache.Warmer
	sources map[string]WarmSource
	logger  zerolog.Logger
}

// NewHandler creates a management handler over a cache service.
func NewHandler(svc *cache.Service) *Handler {
	return &Handler{
		svc:     svc,
		warmer:  cache.NewWarmer(svc, cache.DefaultWarmerConfig()),
		sources: make(map[string]WarmSource),
		logger:  log.With().Str("component", "cache-admin").Logger(),
	}
}

// RegisterWarmSource makes a named type available to POST /cache/warm.
// Not safe to call concurrently with request serving; register everything
// during setup.
func (h *Handler) RegisterWarmSource(name string, source WarmSource) {
	h.sources[name] = source
}

// Routes returns the management API as an http.Handler, with request-id
// and access-log middleware already applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cache/health", h.handleHealth)
	mux.HandleFunc("GET /cache/metrics", h.handleMetrics)
	mux.HandleFunc("POST /cache/clear", h.handleClear)
	mux.HandleFunc("POST /cache/warm", h.handleWarm)
	mux.HandleFunc("GET /cache/analytics", h.handleAnalytics)
	return requestID(accessLog(h.logger, mux))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.svc.HealthCheck(r.Context())

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Report(r.Context()))
}

type clearRequest struct {
	All       bool     `json:"all"`
	Namespace string   `json:"namespace"`
	Pattern   string   `json:"pattern"`
	Tags      []string `json:"tags"`
}

type clearResponse struct {
	ClearedCount int    `json:"cleared_count"`
	Operation    string `json:"operation"`
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	var (
		cleared   int
		operation string
		err       error
	)
	switch {
	case req.All:
		cleared, err = h.svc.ClearAll(r.Context(), "")
		operation = "clear_all"
	case len(req.Tags) > 0:
		cleared, err = h.svc.InvalidateByTags(r.Context(), req.Tags...)
		operation = "clear_tags"
	case req.Pattern != "":
		cleared, err = h.svc.InvalidatePattern(r.Context(), req.Namespace, req.Pattern)
		operation = "clear_pattern"
	case req.Namespace != "":
		cleared, err = h.svc.ClearAll(r.Context(), req.Namespace)
		operation = "clear_namespace"
	default:
		writeError(w, http.StatusBadRequest, "specify one of: all, namespace, pattern, tags")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info().
		Str("operation", operation).
		Int("cleared", cleared).
		Msg("Cache cleared via management API")
	writeJSON(w, http.StatusOK, clearResponse{ClearedCount: cleared, Operation: operation})
}

type warmRequest struct {
	Types []string `json:"types"`
	Force bool     `json:"force"`
}

type warmResponse struct {
	WarmedCount int      `json:"warmed_count"`
	FailedCount int      `json:"failed_count"`
	Types       []string `json:"types"`
	DurationMS  int64    `json:"duration_ms"`
}

func (h *Handler) handleWarm(w http.ResponseWriter, r *http.Request) {
	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	types := req.Types
	if len(types) == 0 {
		// No explicit selection warms every registered source.
		for name := range h.sources {
			types = append(types, name)
		}
		sort.Strings(types)
	}

	var entries []cache.WarmEntry
	for _, name := range types {
		source, ok := h.sources[name]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown warm type %q", name))
			return
		}
		batch, err := source(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("warm source %q: %v", name, err))
			return
		}
		entries = append(entries, batch...)
	}

	report := h.warmer.WarmAll(r.Context(), entries, req.Force)
	writeJSON(w, http.StatusOK, warmResponse{
		WarmedCount: report.Warmed,
		FailedCount: report.Failed,
		Types:       types,
		DurationMS:  report.Duration.Milliseconds(),
	})
}

type analyticsResponse struct {
	Period          string   `json:"period"`
	EfficiencyScore float64  `json:"efficiency_score"`
	HitRate         float64  `json:"hit_rate"`
	TotalRequests   int64    `json:"total_requests"`
	AvgLatencyMS    float64  `json:"avg_latency_ms"`
	FallbackEntries int      `json:"fallback_entries"`
	RemoteKeys      int64    `json:"remote_keys"`
	UsagePatterns   []string `json:"usage_patterns"`
	Recommendations []string `json:"recommendations"`
}

var validPeriods = map[string]bool{"hour": true, "day": true, "week": true}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "day"
	}
	if !validPeriods[period] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid period %q, want hour, day or week", period))
		return
	}

	report := h.svc.Report(r.Context())
	writeJSON(w, http.StatusOK, buildAnalytics(period, report))
}

// buildAnalytics derives the efficiency score and textual guidance from the
// running counters. The score weighs hit rate most heavily, then latency,
// then remote availability. Counters are process-lifetime, so the period
// labels the report rather than windowing it.
func buildAnalytics(period string, report cache.Report) analyticsResponse {
	counters := report.Counters
	total := counters.Hits + counters.Misses

	score := counters.HitRate * 70
	latencyMS := float64(counters.AvgLatency) / float64(time.Millisecond)
	switch {
	case latencyMS == 0:
		score += 20
	case latencyMS < 5:
		score += 20
	case latencyMS < 25:
		score += 10
	}
	if report.Remote.Connected {
		score += 10
	}

	resp := analyticsResponse{
		Period:          period,
		EfficiencyScore: score,
		HitRate:         counters.HitRate,
		TotalRequests:   total,
		AvgLatencyMS:    latencyMS,
		FallbackEntries: report.FallbackEntries,
		RemoteKeys:      report.Remote.KeyCount,
	}

	if total == 0 {
		resp.UsagePatterns = append(resp.UsagePatterns, "no cache reads recorded yet")
		return resp
	}

	switch {
	case counters.HitRate >= 0.8:
		resp.UsagePatterns = append(resp.UsagePatterns, "read-heavy with strong reuse")
	case counters.HitRate >= 0.5:
		resp.UsagePatterns = append(resp.UsagePatterns, "moderate reuse")
	default:
		resp.UsagePatterns = append(resp.UsagePatterns, "low reuse, most reads recompute")
	}
	if counters.Sets > counters.Hits {
		resp.UsagePatterns = append(resp.UsagePatterns, "write-dominated: entries are cached more often than they are read back")
	}

	if counters.HitRate < 0.5 {
		resp.Recommendations = append(resp.Recommendations, "hit rate is below 50%: review TTLs or cache fewer, hotter keys")
	}
	if !report.Remote.Connected {
		resp.Recommendations = append(resp.Recommendations, "remote tier is unreachable: entries are limited to this process and lost on restart")
	}
	if counters.Errors > 0 && total > 0 && float64(counters.Errors)/float64(total) > 0.01 {
		resp.Recommendations = append(resp.Recommendations, "error rate above 1%: check remote tier logs")
	}
	if latencyMS >= 25 {
		resp.Recommendations = append(resp.Recommendations, "average read latency above 25ms: check remote round-trip times or enable compression for large payloads")
	}
	if len(resp.Recommendations) == 0 {
		resp.Recommendations = append(resp.Recommendations, "cache is operating efficiently, no changes recommended")
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode management API response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
