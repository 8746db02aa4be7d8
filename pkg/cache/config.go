package cache

import "time"

// Config holds the cache service configuration.
// It is read-only after the service is constructed.
type Config struct {
	// Enabled toggles the whole cache. When false every read is a miss and
	// every write is a silent no-op.
	Enabled bool

	// KeyPrefix is the namespacing root for all composed keys.
	KeyPrefix string

	// DefaultTTL is applied when a Set does not request a TTL.
	DefaultTTL time.Duration

	// MaxTTL is a hard ceiling; requested TTLs are clamped to it.
	MaxTTL time.Duration

	// Compression enables gzip compression of serialized payloads.
	Compression bool

	// CompressionThreshold is the serialized size in bytes above which a
	// payload is compressed.
	CompressionThreshold int

	// DialTimeout bounds remote-tier connection establishment.
	DialTimeout time.Duration

	// OpTimeout bounds every single remote-tier operation. A timed-out
	// operation is treated as a remote failure and falls back immediately.
	OpTimeout time.Duration

	// FallbackMaxEntries caps the fallback tier. Oldest entries are evicted
	// once the cap is reached.
	FallbackMaxEntries int

	// FallbackSweepInterval is how often expired fallback entries are swept.
	// Zero disables the sweep; lazy expiration on read still applies.
	FallbackSweepInterval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		KeyPrefix:             "chordbook",
		DefaultTTL:            5 * time.Minute,
		MaxTTL:                24 * time.Hour,
		Compression:           true,
		CompressionThreshold:  1024,
		DialTimeout:           2 * time.Second,
		OpTimeout:             1 * time.Second,
		FallbackMaxEntries:    10000,
		FallbackSweepInterval: 1 * time.Minute,
	}
}

// effectiveTTL clamps a requested TTL to the configured ceiling.
// A zero or negative request falls back to DefaultTTL.
func (c Config) effectiveTTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}
