package cache

import "time"

// Entry is the envelope stored in both tiers for one cached value.
type Entry struct {
	// Payload is the serialized value, gzip-compressed when Compressed is set.
	Payload []byte `json:"payload"`

	// Compressed marks the payload as gzip-compressed so Get can reverse it.
	Compressed bool `json:"compressed"`

	// ExpiresAt is when the entry becomes stale. The remote tier enforces it
	// natively via SETEX; the fallback tier checks it on every read.
	ExpiresAt time.Time `json:"expires_at"`

	// Tags are the invalidation tags attached at write time.
	Tags []string `json:"tags,omitempty"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is stale at the given instant.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// TTL returns the time until expiration at the given instant.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
