// Package host implements compute.Backend on the CPU. Work-groups of a launch run
// concurrently on goroutines, work-items of one work-group run in order, and device-wide
// atomics are compare-and-swap loops on the accumulator cells. Kernels execute synchronously,
// so Barrier only has to observe the context.
package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/parallel"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Name is the backend name used in kernel cache keys.
const Name = "host"

// BuildHook may reject a build; used to inject compiler failures.
type BuildHook func(name string, kctx *compute.KernelCtx) error

// LaunchHook may reject a launch; n counts launches on the backend starting at 1.
type LaunchHook func(k compute.Kernel, n int64) error

// Option configures a Backend.
type Option func(*Backend)

// WithDeviceInfo replaces the detected capabilities, e.g. with a built-in profile.
func WithDeviceInfo(info compute.DeviceInfo) Option {
	return func(b *Backend) { b.info = info.Clone() }
}

// WithParallel sets how work-groups are spread over goroutines.
func WithParallel(cfg parallel.Config) Option {
	return func(b *Backend) { b.cfg = cfg }
}

// WithMemoryLimit caps the bytes allocated at any time. Zero means unlimited.
func WithMemoryLimit(bytes uint64) Option {
	return func(b *Backend) { b.memLimit = bytes }
}

// WithBuildHook installs a hook run before every build.
func WithBuildHook(h BuildHook) Option {
	return func(b *Backend) { b.buildHook = h }
}

// WithLaunchHook installs a hook run before every launch.
func WithLaunchHook(h LaunchHook) Option {
	return func(b *Backend) { b.launchHook = h }
}

// Stats counts backend activity.
type Stats struct {
	Builds   int64
	Launches int64
	Fills    int64
	Barriers int64
	InUse    uint64 // bytes currently allocated
}

// Backend is the host compute device.
type Backend struct {
	id         string
	info       compute.DeviceInfo
	cfg        parallel.Config
	pool       *compute.BufferPool
	memLimit   uint64
	buildHook  BuildHook
	launchHook LaunchHook

	mu    sync.Mutex
	inUse uint64

	builds   atomic.Int64
	launches atomic.Int64
	fills    atomic.Int64
	barriers atomic.Int64
}

// New creates a host backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		id:   Name + "-" + uuid.NewString(),
		info: DetectDeviceInfo(),
		cfg:  parallel.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pool = compute.NewBufferPool(b)
	klog.V(1).Infof("host backend: %s, subgroup %d, %d EUs, memory limit %s",
		b.info.Name, b.info.SubgroupSize, b.info.EUCount, memLimitString(b.memLimit))
	return b
}

func memLimitString(limit uint64) string {
	if limit == 0 {
		return "none"
	}
	return humanize.IBytes(limit)
}

// Name implements compute.Backend.
func (b *Backend) Name() string { return Name }

// ID implements compute.Backend.
func (b *Backend) ID() string { return b.id }

// DeviceInfo implements compute.Backend.
func (b *Backend) DeviceInfo() compute.DeviceInfo { return b.info.Clone() }

// Allocator implements compute.Backend with a buffer pool.
func (b *Backend) Allocator() compute.Allocator { return b.pool }

// NewBuffer allocates a zeroed buffer outside the pool.
func (b *Backend) NewBuffer(size uint64) (compute.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.memLimit > 0 && b.inUse+size > b.memLimit {
		return nil, compute.AllocationFailuref("%s requested with %s of %s in use",
			humanize.IBytes(size), humanize.IBytes(b.inUse), humanize.IBytes(b.memLimit))
	}
	b.inUse += size
	return newBuffer(size), nil
}

// FreeBuffer returns a buffer obtained from NewBuffer.
func (b *Backend) FreeBuffer(buf compute.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inUse -= buf.Size()
}

// Upload copies data into a new buffer.
func (b *Backend) Upload(data []byte) (*Buffer, error) {
	buf, err := b.NewBuffer(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	hb := buf.(*Buffer)
	copy(hb.data, data)
	return hb, nil
}

// Download copies the contents of buf.
func (b *Backend) Download(buf compute.Buffer) ([]byte, error) {
	hb, err := hostBuffer(buf, "download")
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), hb.data...), nil
}

// Close frees pooled buffers.
func (b *Backend) Close() {
	b.pool.Clear()
}

// Stats returns a snapshot of the counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	inUse := b.inUse
	b.mu.Unlock()
	return Stats{
		Builds:   b.builds.Load(),
		Launches: b.launches.Load(),
		Fills:    b.fills.Load(),
		Barriers: b.barriers.Load(),
		InUse:    inUse,
	}
}

// Build implements compute.Backend.
func (b *Backend) Build(_ context.Context, name string, kctx *compute.KernelCtx) (compute.Kernel, error) {
	b.builds.Add(1)
	if b.buildHook != nil {
		if err := b.buildHook(name, kctx); err != nil {
			return nil, errors.Wrapf(compute.ErrBuildFailure, "%s: %v", name, err)
		}
	}
	var (
		k   compute.Kernel
		err error
	)
	switch name {
	case compute.KernelAtomicReduce:
		k, err = compileReduce(kctx, b.info)
	case compute.KernelEltwiseFinalize:
		k, err = compileEltwise(kctx)
	default:
		err = compute.BuildFailuref("unknown kernel %q", name)
	}
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("host: built %s %s", name, kctx.Options())
	return k, nil
}

// runner is a kernel the host can execute.
type runner interface {
	compute.Kernel
	run(ctx context.Context, b *Backend, nd compute.NDRange, args *compute.ArgList) error
}

// Launch implements compute.Backend. The kernel has completed when Launch returns.
func (b *Backend) Launch(ctx context.Context, k compute.Kernel, nd compute.NDRange, args *compute.ArgList) error {
	n := b.launches.Add(1)
	if b.launchHook != nil {
		if err := b.launchHook(k, n); err != nil {
			return errors.Wrapf(compute.ErrLaunchFailure, "%s: %v", k.Name(), err)
		}
	}
	r, ok := k.(runner)
	if !ok {
		return compute.LaunchFailuref("kernel %T was not built by the host backend", k)
	}
	if err := nd.Validate(); err != nil {
		return errors.WithMessage(err, k.Name())
	}
	if err := r.run(ctx, b, nd, args); err != nil {
		if !errors.Is(err, compute.ErrLaunchFailure) {
			err = errors.Wrapf(compute.ErrLaunchFailure, "%s: %v", k.Name(), err)
		}
		return err
	}
	return nil
}

// Fill implements compute.Backend.
func (b *Backend) Fill(_ context.Context, buf compute.Buffer, pattern []byte) error {
	b.fills.Add(1)
	hb, err := hostBuffer(buf, "fill")
	if err != nil {
		return err
	}
	if len(pattern) == 0 {
		return compute.LaunchFailuref("fill with an empty pattern")
	}
	for i := range hb.data {
		hb.data[i] = pattern[i%len(pattern)]
	}
	return nil
}

// Barrier implements compute.Backend.
func (b *Backend) Barrier(ctx context.Context) error {
	b.barriers.Add(1)
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(compute.ErrLaunchFailure, "barrier: %v", err)
	}
	return nil
}

// groupIndex splits a linear work-group number into ND coordinates.
func groupIndex(linear int, groups [3]int) (x, y, z int) {
	x = linear % groups[0]
	y = (linear / groups[0]) % groups[1]
	z = linear / (groups[0] * groups[1])
	return x, y, z
}
