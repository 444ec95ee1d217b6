package compute

import (
	"sync"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// BufferSize represents different buffer size categories for pooling.
type BufferSize int

const (
	// SmallBuffer for buffers < 4KB.
	SmallBuffer BufferSize = iota
	// MediumBuffer for buffers 4KB-1MB.
	MediumBuffer
	// LargeBuffer for buffers > 1MB.
	LargeBuffer
	numBufferSizes
)

const (
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB
	maxPoolSize     = 100         // Max buffers per category
)

// RawAllocator creates and destroys device buffers without reuse.
type RawAllocator interface {
	NewBuffer(size uint64) (Buffer, error)
	FreeBuffer(buf Buffer)
}

// PoolStats describes buffer pool usage.
type PoolStats struct {
	Allocated uint64
	Released  uint64
	Hits      uint64
	Misses    uint64
	Pooled    int
}

// BufferPool manages device buffer reuse to reduce allocation overhead.
// Buffers are categorized by size; a request is served by any pooled buffer at least as
// large. BufferPool implements Allocator.
type BufferPool struct {
	raw RawAllocator

	pools [numBufferSizes][]Buffer

	mu    sync.Mutex
	stats PoolStats
}

// NewBufferPool creates a new buffer pool over raw.
func NewBufferPool(raw RawAllocator) *BufferPool {
	p := &BufferPool{raw: raw}
	for i := range p.pools {
		p.pools[i] = make([]Buffer, 0, maxPoolSize)
	}
	return p
}

// Allocate gets a buffer from the pool or creates a new one.
func (p *BufferPool) Allocate(size uint64) (Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	category := categorize(size)
	pool := p.pools[category]
	for i, buf := range pool {
		if buf.Size() >= size {
			p.pools[category] = append(pool[:i], pool[i+1:]...)
			p.stats.Hits++
			return buf, nil
		}
	}

	buf, err := p.raw.NewBuffer(size)
	if err != nil {
		return nil, err
	}
	p.stats.Misses++
	p.stats.Allocated++
	klog.V(3).Infof("buffer pool: allocated %s", humanize.IBytes(size))
	return buf, nil
}

// Release returns a buffer to the pool for reuse.
// If the pool is full, the buffer is immediately freed.
func (p *BufferPool) Release(buf Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Released++
	category := categorize(buf.Size())
	if len(p.pools[category]) >= maxPoolSize {
		p.raw.FreeBuffer(buf)
		return
	}
	p.pools[category] = append(p.pools[category], buf)
}

// Clear frees all pooled buffers.
// Should be called when the backend is released.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, pool := range p.pools {
		for _, buf := range pool {
			p.raw.FreeBuffer(buf)
		}
		p.pools[i] = pool[:0]
	}
}

// Stats returns statistics about buffer pool usage.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	for _, pool := range p.pools {
		s.Pooled += len(pool)
	}
	return s
}

// categorize determines the size category for a buffer.
func categorize(size uint64) BufferSize {
	if size < smallThreshold {
		return SmallBuffer
	}
	if size < mediumThreshold {
		return MediumBuffer
	}
	return LargeBuffer
}
