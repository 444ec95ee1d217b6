package eltwise

import (
	"context"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const workGroupSize = 64

// Primitive runs one finalization descriptor on a backend.
type Primitive struct {
	desc    Desc
	backend compute.Backend
	kernel  compute.Kernel
}

// NewPrimitive validates desc and acquires its kernel through cache.
func NewPrimitive(ctx context.Context, desc Desc, backend compute.Backend, cache *compute.KernelCache) (*Primitive, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		cache = compute.DefaultCache()
	}
	kernel, err := cache.Acquire(ctx, backend, compute.KernelEltwiseFinalize, desc.Key())
	if err != nil {
		return nil, errors.WithMessagef(err, "eltwise %s", desc.Op)
	}
	return &Primitive{desc: desc, backend: backend, kernel: kernel}, nil
}

// Desc returns the descriptor the primitive was built from.
func (p *Primitive) Desc() Desc { return p.desc }

// Execute transforms NumElements values of src into dst. src and dst may be the same buffer
// when their types match.
func (p *Primitive) Execute(ctx context.Context, src, dst compute.Buffer) error {
	n := p.desc.NumElements
	args := compute.NewArgList(compute.NumEltwiseArgs).
		SetBuffer(compute.EltwiseArgSrc, src).
		SetBuffer(compute.EltwiseArgDst, dst).
		SetInt(compute.EltwiseArgCount, int64(n)).
		SetFloat(compute.EltwiseArgDiv, p.desc.Div).
		SetFloat(compute.EltwiseArgEps, float64(p.desc.Eps)).
		SetFloat(compute.EltwiseArgPower, float64(p.desc.Power))
	nd := compute.NDRange{
		Global: [3]int{compute.RoundUp(n, workGroupSize), 1, 1},
		Local:  [3]int{workGroupSize, 1, 1},
	}
	klog.V(2).Infof("eltwise %s: %s", p.desc.Op, nd)
	if err := p.backend.Launch(ctx, p.kernel, nd, args); err != nil {
		if !errors.Is(err, compute.ErrLaunchFailure) {
			err = errors.Wrapf(compute.ErrLaunchFailure, "eltwise %s: %v", p.desc.Op, err)
		}
		return err
	}
	return p.backend.Barrier(ctx)
}
