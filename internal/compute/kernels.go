package compute

import "math"

// Kernels every backend provides.
const (
	KernelAtomicReduce    = "atomic_reduce"
	KernelEltwiseFinalize = "eltwise_finalize"
)

// Defines of KernelAtomicReduce.
const (
	DefAlg          = "ALG"
	DefSrcType      = "SRC_DT"
	DefDstType      = "DST_DT"
	DefIsFirst      = "IS_FIRST"
	DefIsFinal      = "IS_FINAL"
	DefThreadsPerEU = "THREADS_PER_EU"
	DefSubgroupSize = "SUBGROUP_SIZE"
	DefVectSize     = "VECT_SIZE"
	DefFullUnroll   = "FULL_UNROLL_FACTOR"
	DefTailUnroll   = "TAIL_UNROLL_FACTOR"
	DefGlobalAcc    = "GLOBAL_ACC"
	DefLocalAcc     = "LOCAL_ACC"
	DefAccType      = "ACC_DT"

	DefInnerDim     = "INNER_DIM"
	DefReductionDim = "REDUCTION_DIM"
	DefOuterDim     = "OUTER_DIM"
	DefLocalSize0   = "LWS_0"
	DefLocalSize1   = "LWS_1"
	DefLocalSize2   = "LWS_2"
)

// Arguments of KernelAtomicReduce.
//
// The source is [outer][reduction count][inner]; a phase folds rows
// [start, start+size) of the reduction dimension into acc (non-final phases) or writes dst
// (final phase, after folding in acc unless it is also the first phase).
const (
	ReduceArgSrc = iota
	ReduceArgAcc
	ReduceArgDst
	ReduceArgReductionStart
	ReduceArgReductionSize
	ReduceArgReductionCount
	ReduceArgOuter
	ReduceArgInner
	ReduceArgPower
	NumReduceArgs
)

// Defines of KernelEltwiseFinalize.
const (
	DefEltwiseOp = "OP"
)

// Arguments of KernelEltwiseFinalize. Src and dst may be the same buffer.
const (
	EltwiseArgSrc = iota
	EltwiseArgDst
	EltwiseArgCount
	EltwiseArgDiv
	EltwiseArgEps
	EltwiseArgPower
	NumEltwiseArgs
)

// FinalizeOp selects the transform KernelEltwiseFinalize applies.
//
// Values are part of serialized kernel keys: never reorder, only append.
type FinalizeOp int32

// Finalization transforms. div, eps and p are runtime arguments.
const (
	FinalizeScale     FinalizeOp = iota // x / div
	FinalizeScaleRoot                   // (x / div)^(1/p)
	FinalizeClampRoot                   // max(x, eps)^(1/p)
	FinalizeAddRoot                     // (x + eps)^(1/p)
	FinalizeClamp                       // max(x, eps)
	FinalizeAdd                         // x + eps
)

var finalizeOpNames = [...]string{"scale", "scale_root", "clamp_root", "add_root", "clamp", "add"}

func (op FinalizeOp) String() string {
	if op < 0 || int(op) >= len(finalizeOpNames) {
		return "unknown"
	}
	return finalizeOpNames[op]
}

// IsValid reports whether op is a declared transform.
func (op FinalizeOp) IsValid() bool {
	return op >= 0 && int(op) < len(finalizeOpNames)
}

// Apply computes the transform of x.
func (op FinalizeOp) Apply(x, div, eps, p float64) float64 {
	switch op {
	case FinalizeScale:
		return x / div
	case FinalizeScaleRoot:
		return math.Pow(x/div, 1/p)
	case FinalizeClampRoot:
		return math.Pow(math.Max(x, eps), 1/p)
	case FinalizeAddRoot:
		return math.Pow(x+eps, 1/p)
	case FinalizeClamp:
		return math.Max(x, eps)
	case FinalizeAdd:
		return x + eps
	}
	return x
}
