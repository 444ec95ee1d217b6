package compute

import (
	"context"
	"sync"

	"github.com/born-ml/atomicreduce/internal/serialization"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// Key identifies a kernel variant. Byte-equal serializations must configure identical
// kernels.
type Key interface {
	Serialize() []byte
	KernelCtx() *KernelCtx
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits     uint64
	Misses   uint64
	Builds   uint64
	Failures uint64
	Entries  int
}

// KernelCache maps (backend instance, kernel name, serialized key) to built kernels. It is safe for
// concurrent use; concurrent acquisitions of a missing key trigger one build.
type KernelCache struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
	group   singleflight.Group
	stats   CacheStats
}

// NewKernelCache creates an empty cache.
func NewKernelCache() *KernelCache {
	return &KernelCache{kernels: make(map[string]Kernel)}
}

var (
	defaultCache     *KernelCache
	defaultCacheOnce sync.Once
)

// DefaultCache is the process-wide cache shared by primitives that are not given one.
func DefaultCache() *KernelCache {
	defaultCacheOnce.Do(func() { defaultCache = NewKernelCache() })
	return defaultCache
}

func cacheIndex(backend, name string, key []byte) string {
	b := make([]byte, 0, len(backend)+len(name)+len(key)+2)
	b = append(b, backend...)
	b = append(b, 0)
	b = append(b, name...)
	b = append(b, 0)
	b = append(b, key...)
	return string(b)
}

// Acquire returns the kernel for key, building it on a miss. Build errors are returned
// wrapped in ErrBuildFailure and are not cached, so nothing is retried behind the caller's
// back. Concurrent callers wait on one build, which runs without the first caller's
// cancellation so that caller giving up does not fail the others.
func (c *KernelCache) Acquire(ctx context.Context, backend Backend, name string, key Key) (Kernel, error) {
	serialized := key.Serialize()
	index := cacheIndex(backend.ID(), name, serialized)

	c.mu.RLock()
	k, ok := c.kernels[index]
	c.mu.RUnlock()
	if ok {
		c.count(func(s *CacheStats) { s.Hits++ })
		klog.V(2).Infof("kernel cache hit: %s/%s key=%s", backend.Name(), name, serialization.Fingerprint(serialized))
		return k, nil
	}
	c.count(func(s *CacheStats) { s.Misses++ })

	v, err, _ := c.group.Do(index, func() (any, error) {
		// Another caller may have finished the build between our lookup and Do.
		c.mu.RLock()
		k, ok := c.kernels[index]
		c.mu.RUnlock()
		if ok {
			return k, nil
		}

		klog.V(2).Infof("building kernel %s/%s key=%s", backend.Name(), name, serialization.Fingerprint(serialized))
		c.count(func(s *CacheStats) { s.Builds++ })
		k, err := backend.Build(context.WithoutCancel(ctx), name, key.KernelCtx())
		if err != nil {
			c.count(func(s *CacheStats) { s.Failures++ })
			if !errors.Is(err, ErrBuildFailure) {
				err = errors.Wrapf(ErrBuildFailure, "%s: %v", name, err)
			}
			return nil, err
		}

		c.mu.Lock()
		c.kernels[index] = k
		c.mu.Unlock()
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Kernel), nil
}

func (c *KernelCache) count(f func(*CacheStats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *KernelCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Entries = len(c.kernels)
	return s
}

// Len is the number of cached kernels.
func (c *KernelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kernels)
}

// Purge drops every cached kernel of backend.
func (c *KernelCache) Purge(backend Backend) {
	prefix := backend.ID() + "\x00"
	c.mu.Lock()
	defer c.mu.Unlock()
	for index := range c.kernels {
		if len(index) >= len(prefix) && index[:len(prefix)] == prefix {
			delete(c.kernels, index)
		}
	}
}
