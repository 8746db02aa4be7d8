package querycache

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/chordbook/cachekit/pkg/cache"
)

// QueryOptions configures a cached query wrapper.
type QueryOptions struct {
	// TTL for the cached result; zero means the service default.
	TTL time.Duration

	// Models are the data models the query reads from. Every cached result
	// is tagged model:<Name> for each, so committed writes to those models
	// invalidate it.
	Models []string

	// Namespace groups the query's entries; defaults to "queries".
	Namespace string

	// KeyPrefix overrides the query name in the derived key.
	KeyPrefix string
}

// QueryFunc is a read function keyed by named arguments.
type QueryFunc[T any] func(ctx context.Context, args map[string]string) (T, error)

// Cached wraps a read function with read-through caching. The cache key is
// derived from the query name and a stable hash of the arguments, so calls
// with equal arguments share one entry regardless of argument order.
func Cached[T any](m *Manager, name string, opts QueryOptions, fn QueryFunc[T]) QueryFunc[T] {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "queries"
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = name
	}

	tags := make([]string, 0, len(opts.Models)+1)
	for _, model := range opts.Models {
		tags = append(tags, ModelTag(model))
	}
	tags = append(tags, QueriesTag)

	return func(ctx context.Context, args map[string]string) (T, error) {
		key := queryKey(prefix, args)

		var value T
		err := m.svc.GetOrSet(ctx, namespace, key, &value, cache.SetOptions{
			TTL:  opts.TTL,
			Tags: tags,
		}, func(ctx context.Context) (any, error) {
			return fn(ctx, args)
		})
		if err != nil {
			var zero T
			return zero, err
		}

		m.register(namespace+":"+key, opts.Models)
		return value, nil
	}
}

// queryKey derives a deterministic logical key from the query name and its
// arguments. Arguments are canonicalized (sorted by name) before hashing,
// which keeps keys short for arbitrarily large argument sets.
func queryKey(prefix string, args map[string]string) string {
	if len(args) == 0 {
		return prefix
	}
	canonical := cache.ArgsKey(prefix, args)
	return fmt.Sprintf("%s:%016x", prefix, xxhash.Sum64String(canonical))
}
