package atomicreduce

import (
	"context"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/eltwise"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Option configures NewPrimitive.
type Option func(*options)

type options struct {
	cache     *compute.KernelCache
	allocator compute.Allocator
}

// WithCache acquires kernels through cache instead of compute.DefaultCache.
func WithCache(cache *compute.KernelCache) Option {
	return func(o *options) { o.cache = cache }
}

// WithAllocator requests the scratchpad from a instead of the backend's allocator.
func WithAllocator(a compute.Allocator) Option {
	return func(o *options) { o.allocator = a }
}

// Primitive is an initialized reduction: one kernel per phase, the finalization pass and the
// accumulator memory. Execute must not be called concurrently on one Primitive; the
// accumulator is shared by every call.
type Primitive struct {
	id         uuid.UUID
	pd         *PrimitiveDesc
	backend    compute.Backend
	kernels    []compute.Kernel
	finalize   *eltwise.Primitive
	scratchpad *compute.Scratchpad
	identity   []byte // accumulator fill pattern
}

// NewPrimitive acquires everything pd needs on backend. On failure nothing is left
// allocated and the error wraps compute.ErrBuildFailure or compute.ErrAllocationFailure.
func NewPrimitive(ctx context.Context, pd *PrimitiveDesc, backend compute.Backend, opts ...Option) (*Primitive, error) {
	o := options{cache: compute.DefaultCache(), allocator: backend.Allocator()}
	for _, opt := range opts {
		opt(&o)
	}

	plan := pd.plan
	p := &Primitive{
		id:       uuid.New(),
		pd:       pd,
		backend:  backend,
		identity: tensor.EncodeSlice(plan.AccType, []float64{pd.desc.Alg.Identity()}),
	}

	for i, phase := range plan.Phases {
		k, err := o.cache.Acquire(ctx, backend, phase.Key.KernelName(), phase.Key)
		if err != nil {
			return nil, errors.WithMessagef(err, "phase %d of %d", i, len(plan.Phases))
		}
		p.kernels = append(p.kernels, k)
	}

	if plan.NeedsFinalization {
		fin, err := eltwise.NewPrimitive(ctx, *plan.Finalization, backend, o.cache)
		if err != nil {
			return nil, errors.WithMessage(err, "finalization")
		}
		p.finalize = fin
	}

	sp, err := compute.AllocateScratchpad(plan.Scratchpad, backend.DeviceInfo(), o.allocator)
	if err != nil {
		return nil, err
	}
	p.scratchpad = sp

	klog.V(1).Infof("atomicreduce %s: %d phase(s) on %s, accumulator %s, local %s",
		p.id.String()[:8], len(p.kernels), backend.Name(),
		humanize.IBytes(plan.Scratchpad.GlobalAccBytes()), humanize.IBytes(uint64(plan.Scratchpad.LocalAccBytes)))
	return p, nil
}

// PrimitiveDesc returns the descriptor the primitive was built from.
func (p *Primitive) PrimitiveDesc() *PrimitiveDesc { return p.pd }

// ID identifies the primitive in logs.
func (p *Primitive) ID() uuid.UUID { return p.id }

// Execute reduces src into dst. Phases run strictly in order with a barrier after each; the
// context is only checked between phases. Any failure wraps compute.ErrLaunchFailure and
// leaves dst undefined.
func (p *Primitive) Execute(ctx context.Context, src, dst compute.Buffer) error {
	if p.scratchpad == nil {
		return compute.LaunchFailuref("atomicreduce %s: primitive is closed", p.id)
	}
	desc := p.pd.desc
	sub := desc.Subproblem()
	if need := uint64(sub.NumInputs() * desc.SrcType.Size()); src.Size() < need {
		return compute.LaunchFailuref("source holds %d bytes, %s needs %d", src.Size(), desc, need)
	}
	if need := uint64(sub.NumOutputs() * desc.DstType.Size()); dst.Size() < need {
		return compute.LaunchFailuref("destination holds %d bytes, %s needs %d", dst.Size(), desc, need)
	}

	plan := p.pd.plan
	acc := p.scratchpad.GlobalAcc
	for i, phase := range plan.Phases {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(compute.ErrLaunchFailure, "phase %d: %v", i, err)
		}
		if phase.Key.IsFirst && phase.Key.GlobalAcc > 1 {
			if err := p.backend.Fill(ctx, acc, p.identity); err != nil {
				return launchError(err, "phase %d: accumulator fill", i)
			}
		}

		out := dst
		if phase.Key.IsFinal && plan.FinalToAccumulator {
			out = acc
		}
		args := compute.NewArgList(compute.NumReduceArgs).
			SetBuffer(compute.ReduceArgSrc, src).
			SetBuffer(compute.ReduceArgDst, out).
			SetInt(compute.ReduceArgReductionStart, int64(phase.ReductionStart)).
			SetInt(compute.ReduceArgReductionSize, int64(phase.ReductionSize)).
			SetInt(compute.ReduceArgReductionCount, int64(sub.ReductionBlock)).
			SetInt(compute.ReduceArgOuter, int64(sub.OuterBlock)).
			SetInt(compute.ReduceArgInner, int64(sub.InnerBlock)).
			SetFloat(compute.ReduceArgPower, float64(desc.P))
		if acc != nil {
			args.SetBuffer(compute.ReduceArgAcc, acc)
		}

		klog.V(2).Infof("atomicreduce %s: phase %d/%d %s", p.id.String()[:8], i+1, len(plan.Phases), phase)
		if err := p.backend.Launch(ctx, p.kernels[i], phase.Runtime, args); err != nil {
			return launchError(err, "phase %d", i)
		}
		if err := p.backend.Barrier(ctx); err != nil {
			return launchError(err, "phase %d barrier", i)
		}
	}

	if p.finalize != nil {
		in := dst
		if plan.FinalToAccumulator {
			in = acc
		}
		if err := p.finalize.Execute(ctx, in, dst); err != nil {
			return launchError(err, "finalization")
		}
	}
	return nil
}

func launchError(err error, format string, args ...any) error {
	if !errors.Is(err, compute.ErrLaunchFailure) {
		err = errors.Wrap(compute.ErrLaunchFailure, err.Error())
	}
	return errors.WithMessagef(err, format, args...)
}

// Close releases the accumulator memory. The primitive cannot execute afterwards.
func (p *Primitive) Close() {
	p.scratchpad.Release()
	p.scratchpad = nil
}
