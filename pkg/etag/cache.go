package etag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chordbook/cachekit/pkg/cache"
)

// CachedResponse bundles a response body with its fingerprint so one cache
// lookup serves both.
type CachedResponse struct {
	Value    json.RawMessage `json:"value"`
	ETag     string          `json:"etag"`
	CachedAt time.Time       `json:"cached_at"`
}

// CacheAndFingerprint fingerprints a value and stores {value, fingerprint,
// cached_at} as a single cache entry. Returns the fingerprint.
func CacheAndFingerprint(ctx context.Context, svc *cache.Service, namespace, key string, value any, opts cache.SetOptions) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	fingerprint, err := Fingerprint(json.RawMessage(data))
	if err != nil {
		return "", err
	}

	entry := CachedResponse{
		Value:    data,
		ETag:     fingerprint,
		CachedAt: time.Now(),
	}
	if err := svc.Set(ctx, namespace, key, entry, opts); err != nil {
		return "", err
	}
	return fingerprint, nil
}

// Lookup fetches a previously cached response. Returns cache.ErrCacheMiss
// when absent.
func Lookup(ctx context.Context, svc *cache.Service, namespace, key string) (*CachedResponse, error) {
	var entry CachedResponse
	if err := svc.Get(ctx, namespace, key, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
