//go:build gpu

package webgpu

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

// Option configures New.
type Option func(*Backend)

// WithEUCount overrides the execution unit count, which WebGPU does not report.
func WithEUCount(n int) Option {
	return func(b *Backend) { b.info.EUCount = n }
}

// WithSubgroupSize overrides the assumed subgroup size.
func WithSubgroupSize(n int) Option {
	return func(b *Backend) { b.info.SubgroupSize = n }
}

// Buffer is device memory.
type Buffer struct {
	buf  *wgpu.Buffer
	size uint64
}

// Size implements compute.Buffer.
func (b *Buffer) Size() uint64 { return b.size }

type kernel struct {
	name     string
	pipeline *wgpu.ComputePipeline
	inPlace  *wgpu.ComputePipeline // eltwise only
	reduce   reduceConfig
}

func (k *kernel) Name() string { return k.name }

// Backend is a WebGPU device.
type Backend struct {
	id       string
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     compute.DeviceInfo
	pool     *compute.BufferPool

	// Per-launch resources, released once the queue drains.
	mu      sync.Mutex
	pending []func()
}

// New opens the default high-performance adapter.
func New(opts ...Option) (backend *Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = errors.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, errors.New("webgpu: failed to create instance")
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		instance.Release()
		return nil, errors.Errorf("webgpu: no adapter: %v", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(err, "webgpu: request device")
	}

	adapterInfo := adapter.GetInfo()
	limits := adapter.GetLimits()
	b := &Backend{
		id:       Name + "-" + uuid.NewString(),
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		info: compute.DeviceInfo{
			Name:             adapterInfo.Name,
			SubgroupSize:     32,
			ThreadsPerEU:     8,
			EUCount:          32,
			MaxWorkGroupSize: int(limits.Limits.MaxComputeInvocationsPerWorkgroup),
			MaxLocalMemory:   int64(limits.Limits.MaxComputeWorkgroupStorageSize),
			MaxGlobalAcc:     16,
			AtomicTypes:      compute.DataTypes{tensor.Float32},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.info.Validate(); err != nil {
		b.Close()
		return nil, err
	}
	b.pool = compute.NewBufferPool(b)
	klog.V(1).Infof("webgpu backend: %s (%s), work-group limit %d, local memory %s",
		adapterInfo.Name, adapterInfo.VendorName, b.info.MaxWorkGroupSize,
		humanize.IBytes(uint64(b.info.MaxLocalMemory)))
	return b, nil
}

// Name implements compute.Backend.
func (b *Backend) Name() string { return Name }

// ID implements compute.Backend.
func (b *Backend) ID() string { return b.id }

// DeviceInfo implements compute.Backend.
func (b *Backend) DeviceInfo() compute.DeviceInfo { return b.info.Clone() }

// Allocator implements compute.Backend.
func (b *Backend) Allocator() compute.Allocator { return b.pool }

// NewBuffer implements compute.RawAllocator. Sizes are rounded up to whole words.
func (b *Backend) NewBuffer(size uint64) (compute.Buffer, error) {
	size = uint64(compute.RoundUp(int(max(size, 4)), 4))
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{Label: "atomicreduce", Size: size, Usage: storageUsage})
	if err != nil {
		return nil, compute.AllocationFailuref("webgpu: %s buffer: %v", humanize.IBytes(size), err)
	}
	return &Buffer{buf: buf, size: size}, nil
}

// FreeBuffer implements compute.RawAllocator.
func (b *Backend) FreeBuffer(buf compute.Buffer) {
	if wb, ok := buf.(*Buffer); ok {
		wb.buf.Destroy()
	}
}

// Upload copies data into a new buffer.
func (b *Backend) Upload(data []byte) (*Buffer, error) {
	buf, err := b.NewBuffer(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	wb := buf.(*Buffer)
	padded := make([]byte, wb.size)
	copy(padded, data)
	b.queue.WriteBuffer(wb.buf, 0, padded)
	return wb, nil
}

// Download copies the contents of buf through a staging buffer.
func (b *Backend) Download(ctx context.Context, buf compute.Buffer) ([]byte, error) {
	wb, err := deviceBuffer(buf, "download")
	if err != nil {
		return nil, err
	}
	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "atomicreduce_staging",
		Size:  wb.size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: staging buffer")
	}
	defer staging.Destroy()

	enc, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: command encoder")
	}
	enc.CopyBufferToBuffer(wb.buf, 0, staging, 0, wb.size)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, errors.Wrap(err, "webgpu: finish copy")
	}
	b.queue.Submit(cmd)
	cmd.Release()

	done := false
	var status wgpu.BufferMapAsyncStatus
	if err := staging.MapAsync(wgpu.MapModeRead, 0, wb.size, func(s wgpu.BufferMapAsyncStatus) {
		status, done = s, true
	}); err != nil {
		return nil, errors.Wrap(err, "webgpu: map staging buffer")
	}
	for !done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, errors.Errorf("webgpu: map staging buffer: status %v", status)
	}
	out := append([]byte(nil), staging.GetMappedRange(0, uint(wb.size))...)
	staging.Unmap()
	return out, nil
}

// Close releases the device.
func (b *Backend) Close() {
	compute.DefaultCache().Purge(b)
	if b.pool != nil {
		b.pool.Clear()
	}
	b.releasePending()
	b.device.Release()
	b.adapter.Release()
	b.instance.Release()
}

// Build implements compute.Backend.
func (b *Backend) Build(_ context.Context, name string, kctx *compute.KernelCtx) (compute.Kernel, error) {
	switch name {
	case compute.KernelAtomicReduce:
		cfg, err := parseReduce(kctx)
		if err != nil {
			return nil, err
		}
		if limit := b.info.MaxWorkGroupSize; limit > 0 && cfg.subgroup*cfg.threads > limit {
			return nil, compute.BuildFailuref("webgpu: work-group %dx%d exceeds %d", cfg.subgroup, cfg.threads, limit)
		}
		pipeline, err := b.pipeline(name, reduceShader(cfg))
		if err != nil {
			return nil, err
		}
		return &kernel{name: name, pipeline: pipeline, reduce: cfg}, nil

	case compute.KernelEltwiseFinalize:
		op, err := parseEltwise(kctx)
		if err != nil {
			return nil, err
		}
		pipeline, err := b.pipeline(name, eltwiseShader(op, false))
		if err != nil {
			return nil, err
		}
		inPlace, err := b.pipeline(name+"_in_place", eltwiseShader(op, true))
		if err != nil {
			pipeline.Release()
			return nil, err
		}
		return &kernel{name: name, pipeline: pipeline, inPlace: inPlace}, nil
	}
	return nil, compute.BuildFailuref("webgpu: unknown kernel %q", name)
}

func (b *Backend) pipeline(label, code string) (*wgpu.ComputePipeline, error) {
	module, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		klog.V(3).Infof("webgpu: rejected shader %s:\n%s", label, code)
		return nil, compute.BuildFailuref("webgpu: compile %s: %v", label, err)
	}
	defer module.Release()
	p, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   label,
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, compute.BuildFailuref("webgpu: pipeline %s: %v", label, err)
	}
	return p, nil
}

// Launch implements compute.Backend. Work is submitted to the queue; Barrier waits for it.
func (b *Backend) Launch(_ context.Context, k compute.Kernel, nd compute.NDRange, args *compute.ArgList) error {
	wk, ok := k.(*kernel)
	if !ok {
		return compute.LaunchFailuref("kernel %T was not built by the webgpu backend", k)
	}
	if err := nd.Validate(); err != nil {
		return err
	}

	var (
		pipeline *wgpu.ComputePipeline
		entries  []wgpu.BindGroupEntry
		params   []byte
		err      error
	)
	if wk.name == compute.KernelAtomicReduce {
		pipeline = wk.pipeline
		entries, params, err = reduceBindings(wk.reduce, args)
	} else {
		pipeline, entries, params, err = eltwiseBindings(wk, args)
	}
	if err != nil {
		return err
	}

	uniform, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "atomicreduce_params",
		Size:  uint64(len(params)),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return compute.LaunchFailuref("webgpu: params buffer: %v", err)
	}
	b.queue.WriteBuffer(uniform, 0, params)
	entries = append(entries, wgpu.BindGroupEntry{Binding: bindingParams, Buffer: uniform, Size: uniform.GetSize()})

	group, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   wk.name,
		Layout:  pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		uniform.Destroy()
		return compute.LaunchFailuref("webgpu: bind group for %s: %v", wk.name, err)
	}
	b.releaseLater(func() {
		group.Release()
		uniform.Destroy()
	})

	enc, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return compute.LaunchFailuref("webgpu: command encoder: %v", err)
	}
	groups := nd.Groups()
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.DispatchWorkgroups(uint32(groups[0]), uint32(groups[1]), uint32(groups[2]))
	pass.End()
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return compute.LaunchFailuref("webgpu: finish %s: %v", wk.name, err)
	}
	b.queue.Submit(cmd)
	cmd.Release()
	klog.V(3).Infof("webgpu: dispatched %s %v", wk.name, groups)
	return nil
}

func reduceBindings(c reduceConfig, args *compute.ArgList) ([]wgpu.BindGroupEntry, []byte, error) {
	bind := func(binding uint32, index int, role string) (wgpu.BindGroupEntry, error) {
		arg, err := args.Buffer(index)
		if err != nil {
			return wgpu.BindGroupEntry{}, err
		}
		wb, err := deviceBuffer(arg, role)
		if err != nil {
			return wgpu.BindGroupEntry{}, err
		}
		return wgpu.BindGroupEntry{Binding: binding, Buffer: wb.buf, Size: wb.size}, nil
	}

	var entries []wgpu.BindGroupEntry
	src, err := bind(bindingSrc, compute.ReduceArgSrc, "src")
	if err != nil {
		return nil, nil, err
	}
	entries = append(entries, src)
	if c.usesAcc() {
		acc, err := bind(bindingAcc, compute.ReduceArgAcc, "acc")
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, acc)
	}
	if c.isFinal {
		dst, err := bind(bindingDst, compute.ReduceArgDst, "dst")
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, dst)
	}

	params := make([]byte, 32)
	for i, index := range []int{compute.ReduceArgReductionStart, compute.ReduceArgReductionSize,
		compute.ReduceArgReductionCount, compute.ReduceArgOuter, compute.ReduceArgInner} {
		v, err := args.Int(index)
		if err != nil {
			return nil, nil, err
		}
		if v < 0 || v > math.MaxUint32 {
			return nil, nil, compute.LaunchFailuref("webgpu: argument %d = %d does not fit in u32", index, v)
		}
		binary.LittleEndian.PutUint32(params[4*i:], uint32(v))
	}
	power, err := args.Float(compute.ReduceArgPower)
	if err != nil {
		return nil, nil, err
	}
	binary.LittleEndian.PutUint32(params[20:], math.Float32bits(float32(power)))
	return entries, params, nil
}

func eltwiseBindings(k *kernel, args *compute.ArgList) (*wgpu.ComputePipeline, []wgpu.BindGroupEntry, []byte, error) {
	srcArg, err := args.Buffer(compute.EltwiseArgSrc)
	if err != nil {
		return nil, nil, nil, err
	}
	dstArg, err := args.Buffer(compute.EltwiseArgDst)
	if err != nil {
		return nil, nil, nil, err
	}
	src, err := deviceBuffer(srcArg, "src")
	if err != nil {
		return nil, nil, nil, err
	}
	dst, err := deviceBuffer(dstArg, "dst")
	if err != nil {
		return nil, nil, nil, err
	}

	pipeline := k.pipeline
	entries := []wgpu.BindGroupEntry{{Binding: bindingDst, Buffer: dst.buf, Size: dst.size}}
	if src == dst {
		pipeline = k.inPlace
	} else {
		entries = append(entries, wgpu.BindGroupEntry{Binding: bindingSrc, Buffer: src.buf, Size: src.size})
	}

	count, err := args.Int(compute.EltwiseArgCount)
	if err != nil {
		return nil, nil, nil, err
	}
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:], uint32(count))
	for i, index := range []int{compute.EltwiseArgDiv, compute.EltwiseArgEps, compute.EltwiseArgPower} {
		v, err := args.Float(index)
		if err != nil {
			return nil, nil, nil, err
		}
		binary.LittleEndian.PutUint32(params[4+4*i:], math.Float32bits(float32(v)))
	}
	return pipeline, entries, params, nil
}

// Fill implements compute.Backend.
func (b *Backend) Fill(_ context.Context, buf compute.Buffer, pattern []byte) error {
	wb, err := deviceBuffer(buf, "fill")
	if err != nil {
		return err
	}
	if len(pattern) == 0 || wb.size%uint64(len(pattern)) != 0 {
		return compute.LaunchFailuref("webgpu: cannot fill %d bytes with a %d byte pattern", wb.size, len(pattern))
	}
	data := make([]byte, wb.size)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	b.queue.WriteBuffer(wb.buf, 0, data)
	return nil
}

// Barrier implements compute.Backend: it waits for the queue to drain.
func (b *Backend) Barrier(ctx context.Context) error {
	for !b.device.Poll(true, nil) {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(compute.ErrLaunchFailure, "webgpu barrier: %v", err)
		}
	}
	b.releasePending()
	return nil
}

func (b *Backend) releaseLater(release func()) {
	b.mu.Lock()
	b.pending = append(b.pending, release)
	b.mu.Unlock()
}

func (b *Backend) releasePending() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, release := range pending {
		release()
	}
}

func deviceBuffer(buf compute.Buffer, role string) (*Buffer, error) {
	wb, ok := buf.(*Buffer)
	if !ok || wb == nil {
		return nil, compute.LaunchFailuref("webgpu: %s buffer %T is not device memory", role, buf)
	}
	return wb, nil
}
