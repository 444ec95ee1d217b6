package atomicreduce

import (
	"math"
	"testing"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/stretchr/testify/require"
)

func tinyDevice(t *testing.T) compute.DeviceInfo {
	t.Helper()
	dev, err := compute.BuiltinProfile("tiny-test")
	require.NoError(t, err)
	return dev
}

func profile(t *testing.T, name string) compute.DeviceInfo {
	t.Helper()
	dev, err := compute.BuiltinProfile(name)
	require.NoError(t, err)
	return dev
}

func mustDesc(t *testing.T, alg reduction.Alg, src, dst tensor.DataType, shape string, dim int, opts ...reduction.Option) *reduction.Desc {
	t.Helper()
	desc, err := reduction.NewDesc(alg, src, dst, tensor.MustParseShape(shape), []int{dim}, opts...)
	require.NoError(t, err)
	return desc
}

// smallInts returns n integer values in [-4, 4] so that float sums are exact in any order.
func smallInts(n int, seed int) []float64 {
	out := make([]float64, n)
	x := uint32(seed)*2654435761 + 1
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = float64(int(x%9) - 4)
	}
	return out
}

// fractions returns n values smallInts(n, seed)/den.
func fractions(n, seed int, den float64) []float64 {
	out := smallInts(n, seed)
	for i := range out {
		out[i] /= den
	}
	return out
}

// tolerance bounds, per output, how far an accumulation in the plan's accumulation type may
// drift from reference in any order: one ulp of the absolute sum per folded row.
func tolerance(desc *reduction.Desc, src []float64) []float64 {
	sub := desc.Subproblem()
	acc := reduction.AccumulationType(desc.Alg, desc.SrcType, desc.DstType)
	out := make([]float64, sub.NumOutputs())
	for o := range sub.OuterBlock {
		for i := range sub.InnerBlock {
			var abs float64
			for r := range sub.ReductionBlock {
				abs += math.Abs(desc.Alg.Prepare(src[(o*sub.ReductionBlock+r)*sub.InnerBlock+i], desc.P))
			}
			out[o*sub.InnerBlock+i] = float64(sub.ReductionBlock) * ulp(acc, abs)
		}
	}
	return out
}

func ulp(dt tensor.DataType, x float64) float64 {
	if dt == tensor.Float64 {
		return math.Nextafter(x, math.Inf(1)) - x
	}
	f := float32(x)
	return float64(math.Nextafter32(f, float32(math.Inf(1))) - f)
}

// reference folds src[outer][count][inner] in float64 and finalizes the way the algorithm
// defines it.
func reference(desc *reduction.Desc, src []float64) []float64 {
	sub := desc.Subproblem()
	alg := desc.Alg
	op := alg.Combine()
	out := make([]float64, sub.NumOutputs())
	p, eps, n := float64(desc.P), float64(desc.Eps), float64(sub.ReductionBlock)
	for o := range sub.OuterBlock {
		for i := range sub.InnerBlock {
			acc := op.Identity()
			for r := range sub.ReductionBlock {
				acc = op.Apply(acc, alg.Prepare(src[(o*sub.ReductionBlock+r)*sub.InnerBlock+i], desc.P))
			}
			if alg.NeedsFinalization(sub.ReductionBlock) {
				switch alg {
				case reduction.Mean:
					acc /= n
				case reduction.PowerMean:
					acc = pow(acc/n, 1/p)
				case reduction.NormLpMax:
					acc = pow(max(acc, eps), 1/p)
				case reduction.NormLpSum:
					acc = pow(acc+eps, 1/p)
				case reduction.NormLpPowerPMax:
					acc = max(acc, eps)
				case reduction.NormLpPowerPSum:
					acc += eps
				}
			}
			out[o*sub.InnerBlock+i] = acc
		}
	}
	return out
}

func pow(x, y float64) float64 { return math.Pow(x, y) }
