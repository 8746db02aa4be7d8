package cache

import (
	"strings"
	"sync"
	"time"
)

// fallbackStore is the in-process tier used when the remote tier is
// unavailable, and kept warm on every write so failover is seamless.
// Expiration is lazy on read; the optional sweep only bounds memory.
type fallbackStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
	stopOnce    sync.Once

	now func() time.Time
}

func newFallbackStore(maxEntries int, sweepInterval time.Duration, now func() time.Time) *fallbackStore {
	fs := &fallbackStore{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		stopSweep:  make(chan struct{}),
		now:        now,
	}

	if sweepInterval > 0 {
		fs.sweepTicker = time.NewTicker(sweepInterval)
		go fs.sweepLoop()
	}

	return fs
}

// get returns the live entry for key, evicting it if expired.
func (fs *fallbackStore) get(key string) (*Entry, bool) {
	fs.mu.RLock()
	entry, ok := fs.entries[key]
	fs.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if entry.IsExpired(fs.now()) {
		fs.mu.Lock()
		// Re-check under the write lock; a concurrent set may have replaced it.
		if cur, ok := fs.entries[key]; ok && cur.IsExpired(fs.now()) {
			delete(fs.entries, key)
		}
		fs.mu.Unlock()
		return nil, false
	}

	return entry, true
}

func (fs *fallbackStore) set(key string, entry *Entry) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.entries[key]; !exists && fs.maxEntries > 0 && len(fs.entries) >= fs.maxEntries {
		fs.evictOldestLocked()
	}

	fs.entries[key] = entry
}

// delete removes key and reports whether it was present and live.
func (fs *fallbackStore) delete(key string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entry, ok := fs.entries[key]
	if !ok {
		return false
	}
	delete(fs.entries, key)
	return !entry.IsExpired(fs.now())
}

// deletePrefix removes every live entry whose key starts with prefix and
// returns the removed keys.
func (fs *fallbackStore) deletePrefix(prefix string) []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var removed []string
	for key := range fs.entries {
		if strings.HasPrefix(key, prefix) {
			delete(fs.entries, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// len returns the current entry count, expired entries included.
func (fs *fallbackStore) len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.entries)
}

// evictOldestLocked drops the entry with the oldest CachedAt.
// Caller must hold the write lock.
func (fs *fallbackStore) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time

	for key, entry := range fs.entries {
		if oldestKey == "" || entry.CachedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.CachedAt
		}
	}

	if oldestKey != "" {
		delete(fs.entries, oldestKey)
	}
}

// sweepLoop periodically removes expired entries. Each pass collects
// candidates under the read lock first so the write lock is held only for
// the actual deletes.
func (fs *fallbackStore) sweepLoop() {
	for {
		select {
		case <-fs.sweepTicker.C:
			fs.sweep()
		case <-fs.stopSweep:
			return
		}
	}
}

func (fs *fallbackStore) sweep() {
	now := fs.now()

	fs.mu.RLock()
	var expired []string
	for key, entry := range fs.entries {
		if entry.IsExpired(now) {
			expired = append(expired, key)
		}
	}
	fs.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	fs.mu.Lock()
	for _, key := range expired {
		if entry, ok := fs.entries[key]; ok && entry.IsExpired(now) {
			delete(fs.entries, key)
		}
	}
	fs.mu.Unlock()
}

func (fs *fallbackStore) close() {
	fs.stopOnce.Do(func() {
		if fs.sweepTicker != nil {
			fs.sweepTicker.Stop()
		}
		close(fs.stopSweep)
	})
}
