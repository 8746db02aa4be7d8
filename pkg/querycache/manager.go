package querycache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chordbook/cachekit/pkg/cache"
)

const (
	// QueriesTag is the catch-all tag carried by every cached query.
	QueriesTag = "queries"

	modelTagPrefix = "model:"
)

// ModelTag returns the invalidation tag for a model name.
func ModelTag(model string) string {
	return modelTagPrefix + model
}

// Manager invalidates cached query results when transactions that touch
// their models commit. Correctness comes from the tags stored in the cache
// service; the registry kept here is introspection only.
type Manager struct {
	svc    *cache.Service
	logger zerolog.Logger

	mu       sync.Mutex
	registry map[string]map[string]struct{} // model -> dependent cache keys
}

// NewManager creates a query cache manager over a cache service.
func NewManager(svc *cache.Service) *Manager {
	return &Manager{
		svc:      svc,
		logger:   log.With().Str("component", "querycache").Logger(),
		registry: make(map[string]map[string]struct{}),
	}
}

// Bind subscribes the manager to a transaction's lifecycle. Before commit
// it collects the distinct model names the transaction staged; on commit
// it invalidates their tags; on rollback it discards the collected set.
func (m *Manager) Bind(txn *Txn) {
	txn.OnBeforeCommit(func(ctx context.Context, t *Txn) {
		t.setCollected(t.Models())
	})

	txn.OnCommitted(func(ctx context.Context, t *Txn) {
		m.InvalidateModels(ctx, t.Collected()...)
	})

	txn.OnRolledBack(func(ctx context.Context, t *Txn) {
		m.logger.Debug().
			Strs("models", t.Models()).
			Msg("Transaction rolled back, cache untouched")
	})
}

// InvalidateModels drops every cached entry tagged by the given models.
// Returns the number of keys removed.
func (m *Manager) InvalidateModels(ctx context.Context, models ...string) int {
	if len(models) == 0 {
		return 0
	}

	tags := make([]string, 0, len(models))
	for _, model := range models {
		tags = append(tags, ModelTag(model))
	}

	count, err := m.svc.InvalidateByTags(ctx, tags...)
	if err != nil {
		m.logger.Warn().Err(err).Strs("models", models).Msg("Query invalidation failed")
		return 0
	}

	m.mu.Lock()
	for _, model := range models {
		delete(m.registry, model)
	}
	m.mu.Unlock()

	m.logger.Debug().
		Strs("models", models).
		Int("removed", count).
		Msg("Invalidated cached queries after commit")
	return count
}

// InvalidateAllQueries drops every cached query result regardless of model,
// via the catch-all tag each one carries.
func (m *Manager) InvalidateAllQueries(ctx context.Context) int {
	count, err := m.svc.InvalidateByTags(ctx, QueriesTag)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Query invalidation failed")
		return 0
	}

	m.mu.Lock()
	m.registry = make(map[string]map[string]struct{})
	m.mu.Unlock()
	return count
}

// register records that a cache key was computed from the given models.
func (m *Manager) register(key string, models []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, model := range models {
		keys, ok := m.registry[model]
		if !ok {
			keys = make(map[string]struct{})
			m.registry[model] = keys
		}
		keys[key] = struct{}{}
	}
}

// DependentKeys returns the cache keys registered as depending on a model.
// This reflects queries executed by this process since the last
// invalidation; it is not a source of truth.
func (m *Manager) DependentKeys(model string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.registry[model]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}
