// Package compute abstracts a massively parallel compute device: its capabilities, how
// kernels are configured, built, cached and launched, and how device memory is obtained.
package compute

import (
	"context"

	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
)

// Buffer is device memory. Kernels address it by element index; its Size may exceed what
// was requested when it comes from a pool.
type Buffer interface {
	Size() uint64
}

// Kernel is a compiled kernel handle.
type Kernel interface {
	Name() string
}

// Allocator hands out device buffers.
type Allocator interface {
	Allocate(size uint64) (Buffer, error)
	Release(buf Buffer)
}

// Backend is a compute device.
type Backend interface {
	// Name is the kind of backend, e.g. "host".
	Name() string

	// ID is unique to the backend instance. Kernels are cached per ID, so two devices of
	// the same kind never share a kernel.
	ID() string

	DeviceInfo() DeviceInfo

	// Build compiles kernel name for the configuration in kctx.
	Build(ctx context.Context, name string, kctx *KernelCtx) (Kernel, error)

	// Launch enqueues k over nd. It may return before the kernel completes; use Barrier.
	Launch(ctx context.Context, k Kernel, nd NDRange, args *ArgList) error

	// Fill sets every byte of buf by repeating pattern.
	Fill(ctx context.Context, buf Buffer, pattern []byte) error

	// Barrier returns once every launched kernel completed and its writes are visible to
	// the next launch.
	Barrier(ctx context.Context) error

	Allocator() Allocator
}

// ScratchpadRequest is the memory a primitive needs besides its source and destination.
type ScratchpadRequest struct {
	// GlobalAccElements is the number of accumulator elements of AccType in device memory.
	GlobalAccElements int
	AccType           tensor.DataType
	// LocalAccBytes is the work-group local memory the largest phase uses.
	LocalAccBytes int64
}

// GlobalAccBytes is the size of the global accumulator buffer.
func (r ScratchpadRequest) GlobalAccBytes() uint64 {
	if r.GlobalAccElements == 0 {
		return 0
	}
	return uint64(r.GlobalAccElements) * uint64(r.AccType.Size())
}

// Scratchpad is memory granted for a ScratchpadRequest.
type Scratchpad struct {
	Request   ScratchpadRequest
	GlobalAcc Buffer // nil when no global accumulator is needed

	alloc Allocator
}

// AllocateScratchpad checks req against the device and allocates the global accumulator.
func AllocateScratchpad(req ScratchpadRequest, dev DeviceInfo, alloc Allocator) (*Scratchpad, error) {
	if dev.MaxLocalMemory > 0 && req.LocalAccBytes > dev.MaxLocalMemory {
		return nil, AllocationFailuref("local accumulator of %d bytes exceeds %d bytes of local memory on %s",
			req.LocalAccBytes, dev.MaxLocalMemory, dev.Name)
	}
	sp := &Scratchpad{Request: req, alloc: alloc}
	if size := req.GlobalAccBytes(); size > 0 {
		buf, err := alloc.Allocate(size)
		if err != nil {
			if Classify(err) == nil {
				err = errors.Wrap(ErrAllocationFailure, err.Error())
			}
			return nil, errors.WithMessagef(err, "global accumulator of %d elements", req.GlobalAccElements)
		}
		sp.GlobalAcc = buf
	}
	return sp, nil
}

// Release returns the scratchpad memory. Safe to call more than once.
func (s *Scratchpad) Release() {
	if s == nil || s.GlobalAcc == nil {
		return
	}
	s.alloc.Release(s.GlobalAcc)
	s.GlobalAcc = nil
}
