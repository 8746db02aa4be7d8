// Package testutil provides testing utilities for the cachekit library.
package testutil

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/chordbook/cachekit/pkg/cache"
)

// ErrRemoteDown is returned by a FakeRemote whose failure mode is enabled.
var ErrRemoteDown = errors.New("fake remote: connection refused")

// FakeRemote is an in-memory cache.RemoteStore for unit tests. It supports
// per-operation failure injection and glob matching for Scan.
type FakeRemote struct {
	mu      sync.RWMutex
	data    map[string]fakeEntry
	clock   *Clock
	failing bool

	// Tracking
	GetCount  int
	SetCount  int
	DelCount  int
	ScanCount int
	PingCount int
}

type fakeEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewFakeRemote creates an empty fake remote store.
// clock may be nil, in which case real time is used.
func NewFakeRemote(clock *Clock) *FakeRemote {
	return &FakeRemote{
		data:  make(map[string]fakeEntry),
		clock: clock,
	}
}

// SetFailing toggles the failure mode: every operation returns
// ErrRemoteDown while enabled.
func (f *FakeRemote) SetFailing(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

func (f *FakeRemote) now() time.Time {
	if f.clock != nil {
		return f.clock.Now()
	}
	return time.Now()
}

// Len returns the number of live keys.
func (f *FakeRemote) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := 0
	for _, e := range f.data {
		if f.now().Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Has reports whether a live entry exists for key.
func (f *FakeRemote) Has(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e, ok := f.data[key]
	return ok && f.now().Before(e.expiresAt)
}

func (f *FakeRemote) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.GetCount++
	if f.failing {
		return nil, ErrRemoteDown
	}

	e, ok := f.data[key]
	if !ok || !f.now().Before(e.expiresAt) {
		delete(f.data, key)
		return nil, cache.ErrRemoteMiss
	}
	return e.data, nil
}

func (f *FakeRemote) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SetCount++
	if f.failing {
		return ErrRemoteDown
	}

	f.data[key] = fakeEntry{
		data:      append([]byte(nil), data...),
		expiresAt: f.now().Add(ttl),
	}
	return nil
}

func (f *FakeRemote) Del(ctx context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.DelCount++
	if f.failing {
		return 0, ErrRemoteDown
	}

	var n int64
	for _, key := range keys {
		if e, ok := f.data[key]; ok {
			if f.now().Before(e.expiresAt) {
				n++
			}
			delete(f.data, key)
		}
	}
	return n, nil
}

func (f *FakeRemote) Scan(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ScanCount++
	if f.failing {
		return nil, ErrRemoteDown
	}

	var keys []string
	for key, e := range f.data {
		if !f.now().Before(e.expiresAt) {
			continue
		}
		if globMatch(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *FakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PingCount++
	if f.failing {
		return ErrRemoteDown
	}
	return nil
}

func (f *FakeRemote) Stats(ctx context.Context) (cache.RemoteStats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.failing {
		return cache.RemoteStats{}, ErrRemoteDown
	}
	return cache.RemoteStats{Connected: true, KeyCount: int64(len(f.data))}, nil
}

func (f *FakeRemote) Close() error { return nil }

// globMatch approximates Redis MATCH semantics. Keys contain ":" which
// path.Match treats as a regular character, but "/" never appears in
// composed keys, so path.Match is safe here.
func globMatch(pattern, key string) bool {
	// path.Match "*" does not cross "/", and composed keys have none.
	ok, err := path.Match(pattern, key)
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	// Redis "prefix:*" also matches multi-segment remainders; emulate by
	// prefix testing when the pattern ends with "*".
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(strings.TrimSuffix(pattern, "*"), "*?[") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return ok
}
