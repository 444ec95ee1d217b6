// Package reduction describes what a reduction computes: the algorithm, the data types and the
// decomposition of the source array into outer, reduced and inner blocks.
package reduction

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Alg is a reduction algorithm.
//
// Values are part of serialized kernel keys: never reorder, only append.
type Alg int32

// Supported algorithms. The norm variants follow the usual Lp definitions with an epsilon
// applied before the root is taken.
const (
	Sum Alg = iota
	Mean
	Max
	Min
	Mul
	NormLpMax       // max(Σ|x|^p, eps)^(1/p)
	NormLpSum       // (Σ|x|^p + eps)^(1/p)
	NormLpPowerPMax // max(Σ|x|^p, eps)
	NormLpPowerPSum // Σ|x|^p + eps
	PowerMean       // (Σx^p / n)^(1/p)
)

var algNames = map[Alg]string{
	Sum:             "sum",
	Mean:            "mean",
	Max:             "max",
	Min:             "min",
	Mul:             "mul",
	NormLpMax:       "norm_lp_max",
	NormLpSum:       "norm_lp_sum",
	NormLpPowerPMax: "norm_lp_power_p_max",
	NormLpPowerPSum: "norm_lp_power_p_sum",
	PowerMean:       "power_mean",
}

// String returns the canonical name, e.g. "norm_lp_sum".
func (a Alg) String() string {
	if name, ok := algNames[a]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether a is a declared algorithm.
func (a Alg) IsValid() bool {
	_, ok := algNames[a]
	return ok
}

// ParseAlg converts a canonical name (or a dash-separated spelling) to an Alg.
func ParseAlg(s string) (Alg, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for alg, n := range algNames {
		if n == name {
			return alg, nil
		}
	}
	return 0, errors.Errorf("unknown reduction algorithm %q", s)
}

// CombineOp is the binary operation that folds two partial results.
type CombineOp int32

// Combine operations.
const (
	CombineAdd CombineOp = iota
	CombineMax
	CombineMin
	CombineMul
)

func (op CombineOp) String() string {
	switch op {
	case CombineAdd:
		return "add"
	case CombineMax:
		return "max"
	case CombineMin:
		return "min"
	case CombineMul:
		return "mul"
	}
	return "unknown"
}

// Apply folds b into a.
func (op CombineOp) Apply(a, b float64) float64 {
	switch op {
	case CombineMax:
		return math.Max(a, b)
	case CombineMin:
		return math.Min(a, b)
	case CombineMul:
		return a * b
	default:
		return a + b
	}
}

// Identity is the neutral element of op.
func (op CombineOp) Identity() float64 {
	switch op {
	case CombineMax:
		return math.Inf(-1)
	case CombineMin:
		return math.Inf(1)
	case CombineMul:
		return 1
	default:
		return 0
	}
}

// Combine returns how partial results of a are folded together.
func (a Alg) Combine() CombineOp {
	switch a {
	case Max:
		return CombineMax
	case Min:
		return CombineMin
	case Mul:
		return CombineMul
	default:
		return CombineAdd
	}
}

// Identity is the value accumulators start from.
func (a Alg) Identity() float64 { return a.Combine().Identity() }

// AppliesPower reports whether every source element is raised to p before folding.
func (a Alg) AppliesPower() bool {
	switch a {
	case NormLpMax, NormLpSum, NormLpPowerPMax, NormLpPowerPSum, PowerMean:
		return true
	}
	return false
}

// AtomicCombinable reports whether partial results can be merged with device-wide atomic
// read-modify-write operations. Multiplication has no atomic form on the supported devices.
func (a Alg) AtomicCombinable() bool {
	return a.Combine() != CombineMul
}

// NeedsFinalization reports whether the accumulated value must be transformed after the last
// phase. A single folded element makes mean an identity, so a reduction count of 1 skips
// finalization for every algorithm except the norms and the power mean: their root and
// epsilon change even a single element (norm_lp_sum of x is (|x|^p + eps)^(1/p)).
func (a Alg) NeedsFinalization(reductionCount int) bool {
	switch a {
	case Sum, Max, Min, Mul:
		return false
	case Mean:
		return reductionCount > 1
	default:
		return true
	}
}

// Prepare maps a source element to the value that gets folded.
func (a Alg) Prepare(x float64, p float32) float64 {
	switch a {
	case NormLpMax, NormLpSum, NormLpPowerPMax, NormLpPowerPSum:
		return math.Pow(math.Abs(x), float64(p))
	case PowerMean:
		return math.Pow(x, float64(p))
	}
	return x
}
