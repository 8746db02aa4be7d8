package cache

import "context"

// Cached wraps a compute function so repeated calls within the TTL are
// served from the cache. The wrapper is the compute-once building block
// used by arbitrary application code; query-aware caching with model tags
// lives in the querycache package.
func Cached[T any](svc *Service, namespace, name string, opts SetOptions, compute func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var value T
		err := svc.GetOrSet(ctx, namespace, name, &value, opts, func(ctx context.Context) (any, error) {
			return compute(ctx)
		})
		return value, err
	}
}
