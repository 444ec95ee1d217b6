package host

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
)

// Accumulator cells are read and written in native byte order, which must be little-endian
// to agree with tensor.Decode and tensor.Encode.

// quantize rounds x to what a cell of type dt can hold, the same way tensor.Encode stores
// it: integers round half to even and saturate.
func quantize(dt tensor.DataType, x float64) float64 {
	switch dt {
	case tensor.Float32:
		return float64(float32(x))
	case tensor.Int32:
		if math.IsNaN(x) {
			return 0
		}
		return math.Max(math.MinInt32, math.Min(math.MaxInt32, math.RoundToEven(x)))
	}
	return x
}

// identity is the starting value of op in cells of type dt.
func identity(dt tensor.DataType, op reduction.CombineOp) float64 {
	return quantize(dt, op.Identity())
}

//nolint:gosec // cells are aligned by newBuffer
func cell32(buf *Buffer, idx int) *uint32 { return (*uint32)(unsafe.Pointer(&buf.data[4*idx])) }

//nolint:gosec // cells are aligned by newBuffer
func cell64(buf *Buffer, idx int) *uint64 { return (*uint64)(unsafe.Pointer(&buf.data[8*idx])) }

// atomicCombine folds v into cell idx of buf with an atomic read-modify-write.
func atomicCombine(buf *Buffer, dt tensor.DataType, idx int, op reduction.CombineOp, v float64) {
	switch dt {
	case tensor.Float32:
		p := cell32(buf, idx)
		for {
			old := atomic.LoadUint32(p)
			next := math.Float32bits(float32(op.Apply(float64(math.Float32frombits(old)), v)))
			if atomic.CompareAndSwapUint32(p, old, next) {
				return
			}
		}
	case tensor.Float64:
		p := cell64(buf, idx)
		for {
			old := atomic.LoadUint64(p)
			next := math.Float64bits(op.Apply(math.Float64frombits(old), v))
			if atomic.CompareAndSwapUint64(p, old, next) {
				return
			}
		}
	case tensor.Int32:
		p := (*int32)(unsafe.Pointer(cell32(buf, idx))) //nolint:gosec // same cell, signed view
		if op == reduction.CombineAdd {
			atomic.AddInt32(p, int32(quantize(tensor.Int32, v)))
			return
		}
		for {
			old := atomic.LoadInt32(p)
			next := int32(quantize(tensor.Int32, op.Apply(float64(old), v)))
			if atomic.CompareAndSwapInt32(p, old, next) {
				return
			}
		}
	default:
		panic("atomicCombine: no atomics for " + dt.String())
	}
}
