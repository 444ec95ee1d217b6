// Package atomicreduce plans and executes reductions that are too large for one kernel
// launch. A reduction is split into phases that each fold a slice of the reduction dimension
// into a device-wide accumulator with atomic read-modify-write operations; an optional
// elementwise pass finalizes the result.
package atomicreduce

import (
	"math/bits"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/eltwise"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

const (
	maxFullUnroll = 8
	maxVectBytes  = 16
)

// Plan splits desc into phases for dev. It is a pure function of its arguments. Requests
// that cannot be expressed fail with compute.ErrUnimplemented.
func Plan(desc *reduction.Desc, dev compute.DeviceInfo, hints Hints) (*PhasePlan, error) {
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	if err := hints.Validate(); err != nil {
		return nil, err
	}
	if hints.Deterministic {
		return nil, compute.Unimplementedf("%s: deterministic execution is not supported", desc.Alg)
	}

	sub := desc.Subproblem()
	accType := reduction.AccumulationType(desc.Alg, desc.SrcType, desc.DstType)
	threads := threadsPerEU(dev, hints)
	threshold := min(safeAccumulation(accType), phaseLimit(dev, threads, hints))

	plan := &PhasePlan{
		Desc:              desc,
		AccType:           accType,
		Threshold:         threshold,
		NeedsFinalization: desc.Alg.NeedsFinalization(sub.ReductionBlock),
	}
	plan.FinalToAccumulator = plan.NeedsFinalization && desc.DstType != accType

	sizes := splitReduction(sub.ReductionBlock, threshold, threads)
	start := 0
	for i, size := range sizes {
		plan.Phases = append(plan.Phases, planPhase(desc, dev, threads, phaseSlot{
			start:   start,
			size:    size,
			isFirst: i == 0,
			isFinal: i == len(sizes)-1,
			accType: accType,
			toAcc:   plan.FinalToAccumulator,
		}))
		start += size
	}

	if plan.UsesAtomics() {
		switch {
		case !desc.Alg.AtomicCombinable():
			return nil, compute.Unimplementedf("%s over %d rows exceeds the single-phase limit of %d and has no atomic form",
				desc.Alg, sub.ReductionBlock, threshold)
		case !dev.SupportsAtomics(accType):
			return nil, compute.Unimplementedf("device %s has no %s atomics for a %d-phase %s",
				dev.Name, accType, len(plan.Phases), desc.Alg)
		}
	}

	if plan.NeedsFinalization {
		plan.Finalization = finalization(desc, accType, plan.FinalToAccumulator)
	}

	localBytes := lo.Max(lo.Map(plan.Phases, func(c PhaseConfig, _ int) int64 { return c.Key.LocalAcc }))
	plan.Scratchpad = compute.ScratchpadRequest{AccType: accType, LocalAccBytes: localBytes}
	if len(plan.Phases) > 1 || plan.FinalToAccumulator {
		plan.Scratchpad.GlobalAccElements = sub.NumOutputs()
	}

	if klog.V(1).Enabled() {
		klog.Infof("atomicreduce: %s: %d phase(s) %v, threshold %d, finalization %v",
			desc, len(plan.Phases), plan.ReductionFactors(), threshold, plan.NeedsFinalization)
	}
	return plan, nil
}

// safeAccumulation is the number of values an accumulator of dt folds before integer-valued
// sums stop being exact.
func safeAccumulation(dt tensor.DataType) int {
	return 1 << dt.MantissaBits()
}

func threadsPerEU(dev compute.DeviceInfo, hints Hints) int {
	if hints.ThreadsPerEU == 0 {
		return dev.ThreadsPerEU
	}
	if hints.ThreadsPerEU > dev.ThreadsPerEU {
		klog.Warningf("atomicreduce: threads per EU hint %d exceeds %d on %s, ignored",
			hints.ThreadsPerEU, dev.ThreadsPerEU, dev.Name)
		return dev.ThreadsPerEU
	}
	return hints.ThreadsPerEU
}

// phaseLimit is the device side of the single-phase threshold: a hint, a profile override or
// one full-occupancy wave at maximum unroll.
func phaseLimit(dev compute.DeviceInfo, threads int, hints Hints) int {
	switch {
	case hints.MaxPhaseReduction > 0:
		return hints.MaxPhaseReduction
	case dev.MaxPhaseReduction > 0:
		return dev.MaxPhaseReduction
	}
	return dev.EUCount * threads * dev.SubgroupSize * maxFullUnroll
}

// splitReduction cuts r rows into slices of at most t. While more than t rows remain the
// next slice takes half of them, rounded up to align and capped at t; the rest is the last
// slice.
func splitReduction(r, t, align int) []int {
	var sizes []int
	remaining := r
	for remaining > t {
		size := min(t, compute.RoundUp(compute.DivUp(remaining, 2), align))
		sizes = append(sizes, size)
		remaining -= size
	}
	return append(sizes, remaining)
}

type phaseSlot struct {
	start, size      int
	isFirst, isFinal bool
	accType          tensor.DataType
	toAcc            bool
}

func planPhase(desc *reduction.Desc, dev compute.DeviceInfo, threads int, slot phaseSlot) PhaseConfig {
	sub := desc.Subproblem()
	sg := dev.SubgroupSize
	vect := vectorSize(desc.SrcType, sub.InnerBlock, sg)
	l := min(threads, slot.size)

	global := 1
	if !slot.isFinal {
		global = globalAccumulators(dev, threads, sub, vect, slot.size, l)
	}

	iterations := compute.DivUp(compute.DivUp(slot.size, global), l)
	full := min(maxFullUnroll, 1<<(bits.Len(uint(iterations))-1))
	tail := iterations % full

	var localAcc int64
	if l > 1 {
		localAcc = int64(l * sg * vect * slot.accType.Size())
	}

	// Non-final phases only touch the accumulator; writing type and accumulator type agree
	// so kernels are shared between destinations.
	dst := desc.DstType
	if !slot.isFinal || slot.toAcc {
		dst = slot.accType
	}

	return PhaseConfig{
		Key: KeyParams{
			Alg:          desc.Alg,
			SrcType:      desc.SrcType,
			DstType:      dst,
			IsFirst:      slot.isFirst,
			IsFinal:      slot.isFinal,
			ThreadsPerEU: int32(l),
			SubgroupSize: int32(sg),
			VectSize:     int32(vect),
			FullUnroll:   int32(full),
			TailUnroll:   int32(tail),
			GlobalAcc:    int32(global),
			LocalAcc:     localAcc,
			Params: compute.DispatchCompileParams{
				BlockDim:  [compute.NumBlocks]int8{0, 1, 2},
				LocalSize: [3]int32{int32(sg), int32(l), 1},
			},
		},
		Runtime: compute.NDRange{
			Global: [3]int{compute.RoundUp(compute.DivUp(sub.InnerBlock, vect), sg), l * global, sub.OuterBlock},
			Local:  [3]int{sg, l, 1},
		},
		ReductionStart: slot.start,
		ReductionSize:  slot.size,
	}
}

// vectorSize is the widest load of at most 16 bytes that keeps every subgroup on whole
// vectors of the inner block.
func vectorSize(src tensor.DataType, inner, sg int) int {
	for _, v := range []int{8, 4, 2} {
		if v*src.Size() <= maxVectBytes && inner%(sg*v) == 0 {
			return v
		}
	}
	return 1
}

// globalAccumulators decides how many work-groups share each output tile of a non-final
// phase. Few output tiles leave the device idle, so the reduction rows are split between
// work-groups that meet in the accumulator.
func globalAccumulators(dev compute.DeviceInfo, threads int, sub reduction.Subproblem, vect, size, l int) int {
	tiles := sub.OuterBlock * compute.DivUp(sub.InnerBlock, dev.SubgroupSize*vect)
	target := dev.EUCount * threads
	if tiles >= target {
		return 1
	}
	return max(1, min(compute.DivUp(target, tiles), max(dev.MaxGlobalAcc, 1), compute.DivUp(size, l)))
}

func finalization(desc *reduction.Desc, accType tensor.DataType, toAcc bool) *eltwise.Desc {
	src := desc.DstType
	if toAcc {
		src = accType
	}
	fin := &eltwise.Desc{
		SrcType:     src,
		DstType:     desc.DstType,
		NumElements: desc.Subproblem().NumOutputs(),
		Div:         float64(desc.ReductionCount()),
		Eps:         desc.Eps,
		Power:       desc.P,
	}
	switch desc.Alg {
	case reduction.Mean:
		fin.Op = compute.FinalizeScale
	case reduction.PowerMean:
		fin.Op = compute.FinalizeScaleRoot
	case reduction.NormLpMax:
		fin.Op = compute.FinalizeClampRoot
	case reduction.NormLpSum:
		fin.Op = compute.FinalizeAddRoot
	case reduction.NormLpPowerPMax:
		fin.Op = compute.FinalizeClamp
	case reduction.NormLpPowerPSum:
		fin.Op = compute.FinalizeAdd
	default:
		panic(errors.Errorf("atomicreduce: %s has no finalization", desc.Alg))
	}
	return fin
}
