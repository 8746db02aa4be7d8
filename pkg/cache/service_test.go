package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubRemote is an in-memory RemoteStore with failure injection, shared by
// the service tests. TTLs are honored against the injected clock.
type stubRemote struct {
	mu      sync.Mutex
	data    map[string]stubItem
	clock   *manualClock
	failing bool

	lastSetTTL time.Duration
	getCalls   int
}

type stubItem struct {
	data      []byte
	expiresAt time.Time
}

var errStubDown = errors.New("stub remote down")

func newStubRemote(clock *manualClock) *stubRemote {
	return &stubRemote{
		data:  make(map[string]stubItem),
		clock: clock,
	}
}

func (r *stubRemote) setFailing(failing bool) {
	r.mu.Lock()
	r.failing = failing
	r.mu.Unlock()
}

func (r *stubRemote) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.data[key]
	return ok && r.clock.Now().Before(item.expiresAt)
}

func (r *stubRemote) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	if r.failing {
		return nil, errStubDown
	}
	item, ok := r.data[key]
	if !ok || !r.clock.Now().Before(item.expiresAt) {
		delete(r.data, key)
		return nil, ErrRemoteMiss
	}
	return item.data, nil
}

func (r *stubRemote) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errStubDown
	}
	r.lastSetTTL = ttl
	r.data[key] = stubItem{data: data, expiresAt: r.clock.Now().Add(ttl)}
	return nil
}

func (r *stubRemote) Del(ctx context.Context, keys ...string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return 0, errStubDown
	}
	var n int64
	for _, key := range keys {
		if _, ok := r.data[key]; ok {
			n++
			delete(r.data, key)
		}
	}
	return n, nil
}

func (r *stubRemote) Scan(ctx context.Context, pattern string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return nil, errStubDown
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range r.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (r *stubRemote) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errStubDown
	}
	return nil
}

func (r *stubRemote) Stats(ctx context.Context) (RemoteStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return RemoteStats{}, errStubDown
	}
	return RemoteStats{Connected: true, KeyCount: int64(len(r.data))}, nil
}

func (r *stubRemote) Close() error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.KeyPrefix = "cb"
	cfg.FallbackSweepInterval = 0
	return cfg
}

// newTestService wires a service to the manual clock so TTLs can be
// advanced deterministically.
func newTestService(t *testing.T, cfg Config, remote RemoteStore) (*Service, *manualClock) {
	t.Helper()

	clock := newManualClock()
	svc := New(cfg, remote)
	svc.now = clock.Now
	svc.fallback.now = clock.Now
	svc.state.now = clock.Now
	t.Cleanup(func() { svc.Close() })

	return svc, clock
}

func TestService_SetAndGet(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	if err := svc.Set(ctx, "songs", "42", map[string]string{"title": "Shady Grove"}, SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got map[string]string
	if err := svc.Get(ctx, "songs", "42", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["title"] != "Shady Grove" {
		t.Errorf("got %v", got)
	}

	// Both tiers were written.
	if !remote.has("cb:songs:42") {
		t.Error("remote tier should hold the entry")
	}
	if _, ok := svc.fallback.get("cb:songs:42"); !ok {
		t.Error("fallback tier should hold the entry")
	}
}

func TestService_GetMiss(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	var dest string
	err := svc.Get(context.Background(), "", "missing", &dest)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}
}

func TestService_TTLClamp(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTTL = time.Hour
	cfg.MaxTTL = 24 * time.Hour

	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, cfg, remote)
	remote.clock = svcClock
	ctx := context.Background()

	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"zero uses default", 0, time.Hour},
		{"below max unchanged", 2 * time.Hour, 2 * time.Hour},
		{"above max clamped", 999999 * time.Second, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Set(ctx, "", "k", "v", SetOptions{TTL: tt.requested}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			if remote.lastSetTTL != tt.want {
				t.Errorf("remote TTL = %v, want %v", remote.lastSetTTL, tt.want)
			}

			entry, ok := svc.fallback.get("cb:k")
			if !ok {
				t.Fatal("fallback entry missing")
			}
			if got := entry.ExpiresAt.Sub(entry.CachedAt); got != tt.want {
				t.Errorf("fallback TTL = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_FallbackTransparency(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	remote.setFailing(true)

	if err := svc.Set(ctx, "", "k", "v", SetOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set with dead remote must not fail: %v", err)
	}

	var got string
	if err := svc.Get(ctx, "", "k", &got); err != nil {
		t.Fatalf("Get with dead remote failed: %v", err)
	}
	if got != "v" {
		t.Errorf("got %q, want %q", got, "v")
	}

	// After the TTL elapses the fallback entry lazily expires.
	svcClock.Advance(2 * time.Minute)
	if err := svc.Get(ctx, "", "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err after TTL = %v, want ErrCacheMiss", err)
	}
}

func TestService_RemoteMissIsAuthoritative(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	if err := svc.Set(ctx, "", "k", "v", SetOptions{TTL: time.Hour}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Another instance invalidates the key cluster-wide (remote only).
	if _, err := remote.Del(ctx, "cb:k"); err != nil {
		t.Fatal(err)
	}

	var got string
	if err := svc.Get(ctx, "", "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss after cluster-wide delete", err)
	}
}

func TestService_TagInvalidationExact(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	svc.Set(ctx, "", "a", 1, SetOptions{Tags: []string{"t1"}})
	svc.Set(ctx, "", "b", 2, SetOptions{Tags: []string{"t1", "t2"}})
	svc.Set(ctx, "", "c", 3, SetOptions{Tags: []string{"t2"}})

	count, err := svc.InvalidateByTags(ctx, "t1")
	if err != nil {
		t.Fatalf("InvalidateByTags failed: %v", err)
	}
	if count != 2 {
		t.Errorf("removed %d keys, want 2", count)
	}

	var v int
	if err := svc.Get(ctx, "", "a", &v); !errors.Is(err, ErrCacheMiss) {
		t.Error("a should be gone")
	}
	if err := svc.Get(ctx, "", "b", &v); !errors.Is(err, ErrCacheMiss) {
		t.Error("b should be gone")
	}
	if err := svc.Get(ctx, "", "c", &v); err != nil {
		t.Errorf("c should survive: %v", err)
	}

	// Idempotent: re-running removes nothing and counts nothing.
	count, err = svc.InvalidateByTags(ctx, "t1")
	if err != nil {
		t.Fatalf("second InvalidateByTags failed: %v", err)
	}
	if count != 0 {
		t.Errorf("second invalidation removed %d keys, want 0", count)
	}

	// b was also pruned from t2's key set; only c remains under t2.
	count, _ = svc.InvalidateByTags(ctx, "t2")
	if count != 1 {
		t.Errorf("t2 invalidation removed %d keys, want 1", count)
	}
}

func TestService_TagInvalidationReachesRemote(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	svc.Set(ctx, "songs", "1", "x", SetOptions{Tags: []string{"model:Song"}})

	if _, err := svc.InvalidateByTags(ctx, "model:Song"); err != nil {
		t.Fatal(err)
	}
	if remote.has("cb:songs:1") {
		t.Error("tag invalidation must propagate to the remote tier")
	}
}

func TestService_Delete(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	svc.Set(ctx, "", "k", "v", SetOptions{Tags: []string{"t1"}})

	deleted, err := svc.Delete(ctx, "", "k")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Error("Delete should report an existing entry")
	}

	// The key is pruned from its tags as well.
	if count, _ := svc.InvalidateByTags(ctx, "t1"); count != 0 {
		t.Errorf("tag still held the deleted key, removed %d", count)
	}

	deleted, _ = svc.Delete(ctx, "", "k")
	if deleted {
		t.Error("second Delete should report nothing removed")
	}
}

func TestService_InvalidatePattern(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	svc.Set(ctx, "songs", "list:1", "a", SetOptions{})
	svc.Set(ctx, "songs", "list:2", "b", SetOptions{})
	svc.Set(ctx, "songs", "detail:1", "c", SetOptions{})
	svc.Set(ctx, "stats", "top", "d", SetOptions{})

	count, err := svc.InvalidatePattern(ctx, "songs", "list:*")
	if err != nil {
		t.Fatalf("InvalidatePattern failed: %v", err)
	}
	if count != 2 {
		t.Errorf("removed %d keys, want 2", count)
	}

	var v string
	if err := svc.Get(ctx, "songs", "detail:1", &v); err != nil {
		t.Errorf("detail:1 should survive: %v", err)
	}
	if err := svc.Get(ctx, "stats", "top", &v); err != nil {
		t.Errorf("stats entry should survive: %v", err)
	}
}

func TestService_ClearAllNamespace(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	svc.Set(ctx, "songs", "1", "a", SetOptions{})
	svc.Set(ctx, "songs", "2", "b", SetOptions{})
	svc.Set(ctx, "stats", "top", "c", SetOptions{})

	count, err := svc.ClearAll(ctx, "songs")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("cleared %d keys, want 2", count)
	}

	var v string
	if err := svc.Get(ctx, "stats", "top", &v); err != nil {
		t.Errorf("other namespace should survive: %v", err)
	}
}

func TestService_GetOrSet(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return "computed", nil
	}

	var got string
	if err := svc.GetOrSet(ctx, "", "k", &got, SetOptions{TTL: time.Minute}, compute); err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if got != "computed" || calls != 1 {
		t.Fatalf("got %q after %d calls", got, calls)
	}

	// Second call is served from cache.
	got = ""
	if err := svc.GetOrSet(ctx, "", "k", &got, SetOptions{TTL: time.Minute}, compute); err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if got != "computed" || calls != 1 {
		t.Errorf("got %q after %d calls, want cached value and 1 call", got, calls)
	}
}

func TestService_GetOrSetComputeError(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)
	ctx := context.Background()

	wantErr := errors.New("datastore down")
	var got string
	err := svc.GetOrSet(ctx, "", "k", &got, SetOptions{}, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want compute error", err)
	}

	// Nothing was cached.
	if err := svc.Get(ctx, "", "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("err = %v, want ErrCacheMiss after failed compute", err)
	}
}

func TestService_Warm(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (any, error) {
		calls++
		return "warmed", nil
	}

	if err := svc.Warm(ctx, "", "k", SetOptions{TTL: time.Minute}, compute); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}

	// Already cached: no-op.
	if err := svc.Warm(ctx, "", "k", SetOptions{TTL: time.Minute}, compute); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want still 1", calls)
	}
}

func TestService_CompressionRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Compression = true
	cfg.CompressionThreshold = 128

	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, cfg, remote)
	remote.clock = svcClock
	ctx := context.Background()

	large := strings.Repeat("G D Em C ", 500)
	if err := svc.Set(ctx, "", "chart", large, SetOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	entry, ok := svc.fallback.get("cb:chart")
	if !ok {
		t.Fatal("fallback entry missing")
	}
	if !entry.Compressed {
		t.Error("payload above threshold should be compressed")
	}
	if len(entry.Payload) >= len(large) {
		t.Errorf("stored payload %d bytes not smaller than raw %d", len(entry.Payload), len(large))
	}

	var got string
	if err := svc.Get(ctx, "", "chart", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != large {
		t.Error("compressed value did not round-trip")
	}
}

func TestService_SerializationFailureSurfaces(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	if err := svc.Set(context.Background(), "", "k", make(chan int), SetOptions{}); err == nil {
		t.Fatal("Set of unencodable value should fail")
	}
}

func TestService_CorruptedRemoteEntryIsMiss(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	remote.Set(ctx, "cb:k", []byte("not an entry"), time.Minute)

	var got string
	if err := svc.Get(ctx, "", "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss for corrupted entry", err)
	}
}

func TestService_MetricsConsistency(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)
	ctx := context.Background()

	svc.Set(ctx, "", "hit1", "v", SetOptions{})
	svc.Set(ctx, "", "hit2", "v", SetOptions{})

	var got string
	svc.Get(ctx, "", "hit1", &got)
	svc.Get(ctx, "", "hit2", &got)
	svc.Get(ctx, "", "miss1", &got)
	svc.Get(ctx, "", "miss2", &got)
	svc.Get(ctx, "", "miss3", &got)

	snap := svc.metrics.Snapshot()
	if snap.Hits != 2 {
		t.Errorf("hits = %d, want 2", snap.Hits)
	}
	if snap.Misses != 3 {
		t.Errorf("misses = %d, want 3", snap.Misses)
	}
	if want := 2.0 / 5.0; snap.HitRate != want {
		t.Errorf("hit rate = %v, want %v", snap.HitRate, want)
	}
	if snap.Sets != 2 {
		t.Errorf("sets = %d, want 2", snap.Sets)
	}
}

func TestService_HealthCheck(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	h := svc.HealthCheck(ctx)
	if !h.Healthy || !h.RemoteConnected || !h.FallbackAvailable {
		t.Errorf("healthy remote: %+v", h)
	}

	remote.setFailing(true)
	h = svc.HealthCheck(ctx)
	if !h.Healthy {
		t.Error("fallback keeps the cache healthy when the remote is down")
	}
	if h.RemoteConnected {
		t.Error("remote should report disconnected")
	}
	if h.Error == "" {
		t.Error("ping error should be surfaced")
	}
}

func TestService_HealthCheckNoRemote(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	h := svc.HealthCheck(context.Background())
	if !h.Healthy || h.RemoteConnected || !h.FallbackAvailable {
		t.Errorf("no-remote health: %+v", h)
	}
}

func TestService_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	svc, _ := newTestService(t, cfg, nil)
	ctx := context.Background()

	if err := svc.Set(ctx, "", "k", "v", SetOptions{}); err != nil {
		t.Fatalf("disabled Set should be a silent no-op: %v", err)
	}

	var got string
	if err := svc.Get(ctx, "", "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("disabled Get = %v, want ErrCacheMiss", err)
	}
}

func TestService_RemoteProbationSkipsDeadRemote(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	remote.setFailing(true)

	var got string
	for i := 0; i < remoteFailureThreshold; i++ {
		svc.Get(ctx, "", fmt.Sprintf("k%d", i), &got)
	}

	callsAtProbation := remote.getCalls
	svc.Get(ctx, "", "k", &got)
	if remote.getCalls != callsAtProbation {
		t.Error("reads during probation must not touch the remote")
	}

	// After the probe interval one call goes through and, succeeding,
	// ends probation.
	remote.setFailing(false)
	svcClock.Advance(remoteProbeInterval)
	svc.Set(ctx, "", "k", "v", SetOptions{TTL: time.Hour})
	if err := svc.Get(ctx, "", "k", &got); err != nil {
		t.Fatalf("Get after recovery failed: %v", err)
	}
	if !svc.state.healthy() {
		t.Error("successful probe should end probation")
	}
}

func TestService_ConcurrentOperations(t *testing.T) {
	clock := newManualClock()
	remote := newStubRemote(clock)
	svc, svcClock := newTestService(t, testConfig(), remote)
	remote.clock = svcClock
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n)
			for j := 0; j < 100; j++ {
				svc.Set(ctx, "load", key, j, SetOptions{Tags: []string{"t", "own:" + key}})
				var v int
				svc.Get(ctx, "load", key, &v)
				if j%10 == 0 {
					svc.InvalidateByTags(ctx, "own:"+key)
				}
			}
		}(i)
	}
	wg.Wait()
}
