package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in either tier
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrDisabled indicates the cache is disabled by configuration
	ErrDisabled = errors.New("cache disabled")

	// ErrRemoteMiss is the remote tier's not-found signal. RemoteStore
	// implementations must return it (possibly wrapped) for absent keys.
	ErrRemoteMiss = errors.New("remote miss")
)

// RemoteStats describes the remote tier for the merged metrics view.
type RemoteStats struct {
	Connected bool  `json:"connected"`
	KeyCount  int64 `json:"key_count"`
}

// RemoteStore abstracts the networked key-value tier. Implementations must
// return ErrRemoteMiss (possibly wrapped) for absent keys
// and apply their own per-operation timeouts.
type RemoteStore interface {
	// Get returns the raw entry bytes, or a remote-miss error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores raw entry bytes with a native TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Scan returns all keys matching a glob pattern using an incremental
	// cursor scan, never a blocking full listing.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Ping checks liveness.
	Ping(ctx context.Context) error

	// Stats reports size/connection figures for the metrics view.
	Stats(ctx context.Context) (RemoteStats, error)

	// Close releases the underlying connections.
	Close() error
}

// IsRemoteMiss reports whether err is the remote tier's not-found signal.
func IsRemoteMiss(err error) bool {
	return errors.Is(err, ErrRemoteMiss)
}

// redisStore implements RemoteStore on go-redis.
type redisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore wraps a Redis client as the remote tier.
// Per-operation timeouts come from cfg.OpTimeout.
func NewRedisStore(client *redis.Client, cfg Config) RemoteStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &redisStore{
		client:    client,
		opTimeout: cfg.OpTimeout,
	}
}

// opCtx bounds a single remote operation so a degraded Redis cannot stall
// request handling.
func (r *redisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrRemoteMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *redisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// scanBatchSize is the COUNT hint per SCAN round trip.
const scanBatchSize = 200

func (r *redisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	// SCAN pages through the keyspace; each iteration is bounded by the
	// operation timeout separately so large keyspaces do not trip it.
	var cursor uint64
	for {
		batchCtx, cancel := r.opCtx(ctx)
		batch, next, err := r.client.Scan(batchCtx, cursor, pattern, scanBatchSize).Result()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}

		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *redisStore) Ping(ctx context.Context) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *redisStore) Stats(ctx context.Context) (RemoteStats, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return RemoteStats{}, fmt.Errorf("redis dbsize: %w", err)
	}
	return RemoteStats{Connected: true, KeyCount: size}, nil
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
