package compute

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheReuse(t *testing.T) {
	ctx := context.Background()
	cache := NewKernelCache()
	backend := newFakeBackend("fake")

	k1, err := cache.Acquire(ctx, backend, "k", fakeKey{1})
	require.NoError(t, err)
	k2, err := cache.Acquire(ctx, backend, "k", fakeKey{1})
	require.NoError(t, err)
	assert.Same(t, k1, k2)
	assert.Equal(t, int64(1), backend.builds.Load())
	assert.Equal(t, "-DVALUE=1", k1.(*fakeKernel).options)

	k3, err := cache.Acquire(ctx, backend, "k", fakeKey{2})
	require.NoError(t, err)
	assert.NotSame(t, k1, k3)

	k4, err := cache.Acquire(ctx, backend, "other", fakeKey{1})
	require.NoError(t, err)
	assert.NotSame(t, k1, k4)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, uint64(3), stats.Builds)
	assert.Equal(t, 3, stats.Entries)
}

func TestCacheSeparatesBackends(t *testing.T) {
	ctx := context.Background()
	cache := NewKernelCache()
	a, b := newFakeBackend("a"), newFakeBackend("b")

	ka, err := cache.Acquire(ctx, a, "k", fakeKey{1})
	require.NoError(t, err)
	kb, err := cache.Acquire(ctx, b, "k", fakeKey{1})
	require.NoError(t, err)
	assert.NotSame(t, ka, kb)

	cache.Purge(a)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheSeparatesInstances(t *testing.T) {
	ctx := context.Background()
	cache := NewKernelCache()
	a, b := newFakeBackend("fake"), newFakeBackend("fake")
	b.failBuild = true

	_, err := cache.Acquire(ctx, a, "k", fakeKey{1})
	require.NoError(t, err)
	_, err = cache.Acquire(ctx, b, "k", fakeKey{1})
	assert.True(t, errors.Is(err, ErrBuildFailure))
	assert.Equal(t, int64(1), a.builds.Load())
	assert.Equal(t, int64(1), b.builds.Load())

	b.failBuild = false
	kb, err := cache.Acquire(ctx, b, "k", fakeKey{1})
	require.NoError(t, err)
	ka, err := cache.Acquire(ctx, a, "k", fakeKey{1})
	require.NoError(t, err)
	assert.NotSame(t, ka, kb)
	assert.Equal(t, 2, cache.Len())
}

func TestCacheBuildFailureNotCached(t *testing.T) {
	ctx := context.Background()
	cache := NewKernelCache()
	backend := newFakeBackend("fake")
	backend.failBuild = true

	_, err := cache.Acquire(ctx, backend, "k", fakeKey{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildFailure))
	assert.Equal(t, 0, cache.Len())

	backend.failBuild = false
	_, err = cache.Acquire(ctx, backend, "k", fakeKey{1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.builds.Load())
	assert.Equal(t, uint64(1), cache.Stats().Failures)
}

func TestCacheConcurrentAcquireBuildsOnce(t *testing.T) {
	ctx := context.Background()
	cache := NewKernelCache()
	backend := newFakeBackend("fake")
	backend.delay = 20 * time.Millisecond

	const n = 16
	kernels := make([]Kernel, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := cache.Acquire(ctx, backend, "k", fakeKey{7})
			assert.NoError(t, err)
			kernels[i] = k
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), backend.builds.Load())
	for _, k := range kernels {
		assert.Same(t, kernels[0], k)
	}
}

func TestCacheBuildIgnoresCallerCancellation(t *testing.T) {
	cache := NewKernelCache()
	backend := newFakeBackend("fake")
	backend.delay = 20 * time.Millisecond

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	k, err := cache.Acquire(cancelled, backend, "k", fakeKey{3})
	require.NoError(t, err)
	assert.Equal(t, "-DVALUE=3", k.(*fakeKernel).options)
	assert.Equal(t, uint64(0), cache.Stats().Failures)
}

func TestDefaultCacheIsShared(t *testing.T) {
	assert.Same(t, DefaultCache(), DefaultCache())
}
