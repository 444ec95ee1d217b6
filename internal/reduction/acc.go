package reduction

import "github.com/born-ml/atomicreduce/internal/tensor"

// AccumulationType returns the type partial results are kept in when reducing src into dst:
// float64 for float64 destinations, int32 when both ends are integers and the algorithm is
// order-exact, float32 otherwise. A floating source never accumulates in int32; fractions
// are kept until the destination is written.
func AccumulationType(alg Alg, src, dst tensor.DataType) tensor.DataType {
	switch {
	case dst == tensor.Float64:
		return tensor.Float64
	case src.IsInteger() && dst.IsInteger() && (alg == Sum || alg == Mean || alg == Max || alg == Min):
		return tensor.Int32
	}
	return tensor.Float32
}
