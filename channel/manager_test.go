package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// fakeMetrics records every observation Manager makes so tests can assert on
// hit/miss/eviction-reason counts without a real metrics backend.
type fakeMetrics struct {
	mu       sync.Mutex
	created  []string
	evicted  []string
	reasons  []string
	hits     []string
	misses   []string
	cacheLen []int
}

func (f *fakeMetrics) ObserveChannelCreated(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
}
func (f *fakeMetrics) ObserveChannelEvicted(name, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted = append(f.evicted, name)
	f.reasons = append(f.reasons, reason)
}
func (f *fakeMetrics) ObserveChannelCacheSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cacheLen = append(f.cacheLen, n)
}
func (f *fakeMetrics) ObserveCacheHit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, name)
}
func (f *fakeMetrics) ObserveCacheMiss(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.misses = append(f.misses, name)
}

func (f *fakeMetrics) reasonCount(reason string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reasons {
		if r == reason {
			n++
		}
	}
	return n
}

// dialCountingFunc builds a DialFunc that dials lazily (non-blocking, so it
// never actually needs a live server) against a unique passthrough target
// per call, and counts how many times it was invoked per name.
func dialCountingFunc(t *testing.T) (DialFunc, *int32) {
	t.Helper()
	var calls int32
	dial := func(ctx context.Context, name string) (*grpc.ClientConn, error) {
		atomic.AddInt32(&calls, 1)
		return grpc.DialContext(ctx, "passthrough:///"+name, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return dial, &calls
}

func TestManager_Get_CacheHitAndMiss(t *testing.T) {
	dial, calls := dialCountingFunc(t)
	metrics := &fakeMetrics{}
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, metrics)
	defer m.Shutdown()

	conn1, err := m.Get(context.Background(), "svc-a")
	require.NoError(t, err)

	conn2, err := m.Get(context.Background(), "svc-a")
	require.NoError(t, err)

	assert.Same(t, conn1, conn2)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.Len(t, metrics.misses, 1)
	assert.Len(t, metrics.hits, 1)
}

func TestManager_Get_SingleFlightsConcurrentMisses(t *testing.T) {
	dial, calls := dialCountingFunc(t)
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)
	defer m.Shutdown()

	const n = 20
	var wg sync.WaitGroup
	conns := make([]*grpc.ClientConn, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := m.Get(context.Background(), "svc-a")
			require.NoError(t, err)
			conns[i] = conn
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, conns[0], conns[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.Equal(t, 1, m.Len())
}

func TestManager_LRUEviction_SizeLimit(t *testing.T) {
	dial, _ := dialCountingFunc(t)
	metrics := &fakeMetrics{}
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 2, ShutdownTimeout: time.Second}, dial, metrics)
	defer m.Shutdown()

	ctx := context.Background()
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	_, err = m.Get(ctx, "b")
	require.NoError(t, err)
	_, err = m.Get(ctx, "a") // touch a, making b the LRU victim
	require.NoError(t, err)
	_, err = m.Get(ctx, "c")
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Contains(t, metrics.evicted, "b")
	assert.Equal(t, 1, metrics.reasonCount("size_limit"))

	// a and c must still be servable without a fresh dial error.
	_, err = m.Get(ctx, "a")
	require.NoError(t, err)
	_, err = m.Get(ctx, "c")
	require.NoError(t, err)
}

func TestManager_IdleEviction(t *testing.T) {
	dial, calls := dialCountingFunc(t)
	metrics := &fakeMetrics{}
	m := NewManager(CacheConfig{IdleTTL: 50 * time.Millisecond, MaxSize: 10, ShutdownTimeout: time.Second}, dial, metrics)
	defer m.Shutdown()

	ctx := context.Background()
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	time.Sleep(200 * time.Millisecond)

	_, err = m.Get(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls), "idle entry must be evicted and re-dialed, recording a miss")
	assert.GreaterOrEqual(t, metrics.reasonCount("ttl_expired"), 1)
}

func TestManager_Evict_Manual(t *testing.T) {
	dial, _ := dialCountingFunc(t)
	metrics := &fakeMetrics{}
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, metrics)
	defer m.Shutdown()

	_, err := m.Get(context.Background(), "svc-a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	m.Evict("svc-a")
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 1, metrics.reasonCount("manual"))

	// Evicting an absent name is a no-op, not an error.
	m.Evict("never-existed")
}

func TestManager_Get_AfterShutdownReturnsErrCacheClosed(t *testing.T) {
	dial, _ := dialCountingFunc(t)
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)

	_, err := m.Get(context.Background(), "svc-a")
	require.NoError(t, err)

	m.Shutdown()

	_, err = m.Get(context.Background(), "svc-b")
	assert.ErrorIs(t, err, ErrCacheClosed)
}

func TestManager_Shutdown_IsIdempotent(t *testing.T) {
	dial, _ := dialCountingFunc(t)
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)
	m.Shutdown()
	m.Shutdown() // must not panic or block a second time
}

func TestManager_Get_DialFailureIsWrapped(t *testing.T) {
	boom := errors.New("dial boom")
	dial := func(ctx context.Context, name string) (*grpc.ClientConn, error) {
		return nil, boom
	}
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)
	defer m.Shutdown()

	_, err := m.Get(context.Background(), "svc-a")
	var createErr *ErrChannelCreateFailure
	require.ErrorAs(t, err, &createErr)
	assert.Equal(t, "svc-a", createErr.Name)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
}

func TestManager_Get_PreDialErrorPassesThroughUnwrapped(t *testing.T) {
	dial := func(ctx context.Context, name string) (*grpc.ClientConn, error) {
		return nil, ErrUnavailable
	}
	m := NewManager(CacheConfig{IdleTTL: time.Hour, MaxSize: 10, ShutdownTimeout: time.Second}, dial, nil)
	defer m.Shutdown()

	_, err := m.Get(context.Background(), "svc-a")
	assert.ErrorIs(t, err, ErrUnavailable)

	var createErr *ErrChannelCreateFailure
	assert.False(t, errors.As(err, &createErr), "an unavailable result must not be folded into ErrChannelCreateFailure")
}
