package host

import (
	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
)

// reduceConfig spells out an atomic_reduce variant the way the planner would.
type reduceConfig struct {
	alg           reduction.Alg
	src, dst, acc tensor.DataType
	first, final  bool
	threads, sg   int
	vect          int
	full, tail    int
	global        int
}

func (c reduceConfig) kernelCtx() *compute.KernelCtx {
	ctx := compute.NewKernelCtx()
	ctx.Define(compute.DefAlg, int64(c.alg))
	ctx.Define(compute.DefSrcType, int64(c.src))
	ctx.Define(compute.DefDstType, int64(c.dst))
	ctx.Define(compute.DefAccType, int64(c.acc))
	ctx.DefineBool(compute.DefIsFirst, c.first)
	ctx.DefineBool(compute.DefIsFinal, c.final)
	ctx.Define(compute.DefThreadsPerEU, int64(c.threads))
	ctx.Define(compute.DefSubgroupSize, int64(c.sg))
	ctx.Define(compute.DefVectSize, int64(c.vect))
	ctx.Define(compute.DefFullUnroll, int64(c.full))
	ctx.Define(compute.DefTailUnroll, int64(c.tail))
	ctx.Define(compute.DefGlobalAcc, int64(c.global))
	local := int64(0)
	if c.threads > 1 {
		local = int64(c.threads * c.sg * c.vect * c.acc.Size())
	}
	ctx.Define(compute.DefLocalAcc, local)
	compute.DispatchCompileParams{
		BlockDim:  [compute.NumBlocks]int8{0, 1, 2},
		LocalSize: [3]int32{int32(c.sg), int32(c.threads), 1},
	}.Define(ctx)
	return ctx
}

func (c reduceConfig) ndRange(outer, inner int) compute.NDRange {
	return compute.NDRange{
		Global: [3]int{compute.RoundUp(compute.DivUp(inner, c.vect), c.sg), c.threads * c.global, outer},
		Local:  [3]int{c.sg, c.threads, 1},
	}
}

func reduceArgList(src, acc, dst compute.Buffer, start, size, count, outer, inner int, power float64) *compute.ArgList {
	args := compute.NewArgList(compute.NumReduceArgs).
		SetInt(compute.ReduceArgReductionStart, int64(start)).
		SetInt(compute.ReduceArgReductionSize, int64(size)).
		SetInt(compute.ReduceArgReductionCount, int64(count)).
		SetInt(compute.ReduceArgOuter, int64(outer)).
		SetInt(compute.ReduceArgInner, int64(inner)).
		SetFloat(compute.ReduceArgPower, power)
	if src != nil {
		args.SetBuffer(compute.ReduceArgSrc, src)
	}
	if acc != nil {
		args.SetBuffer(compute.ReduceArgAcc, acc)
	}
	if dst != nil {
		args.SetBuffer(compute.ReduceArgDst, dst)
	}
	return args
}

// referenceReduce folds src[outer][count][inner] sequentially in float64.
func referenceReduce(alg reduction.Alg, src []float64, outer, count, inner int, p float32) []float64 {
	out := make([]float64, outer*inner)
	op := alg.Combine()
	for o := range outer {
		for i := range inner {
			acc := op.Identity()
			for r := range count {
				acc = op.Apply(acc, alg.Prepare(src[(o*count+r)*inner+i], p))
			}
			out[o*inner+i] = acc
		}
	}
	return out
}

func sequence(n int, mod int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i%mod) - float64(mod/2)
	}
	return out
}
