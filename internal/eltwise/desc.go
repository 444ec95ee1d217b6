// Package eltwise is the elementwise operator that finalizes a reduction: it maps every
// accumulated value through one compute.FinalizeOp and converts it to the destination type.
package eltwise

import (
	"fmt"
	"math"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/serialization"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
)

// Desc describes one finalization pass over NumElements values.
type Desc struct {
	Op          compute.FinalizeOp
	SrcType     tensor.DataType
	DstType     tensor.DataType
	NumElements int
	Div         float64 // divisor of the scale ops, the reduction count held exactly
	Eps         float32
	Power       float32 // p of the root ops; the root taken is 1/p
}

// Validate checks the descriptor.
func (d *Desc) Validate() error {
	if !d.Op.IsValid() {
		return errors.Errorf("eltwise: unknown op %d", d.Op)
	}
	if !d.SrcType.IsValid() || !d.DstType.IsValid() {
		return errors.Errorf("eltwise: invalid data types %s -> %s", d.SrcType, d.DstType)
	}
	if d.NumElements <= 0 {
		return errors.Errorf("eltwise: %d elements", d.NumElements)
	}
	switch d.Op {
	case compute.FinalizeScale, compute.FinalizeScaleRoot:
		if d.Div == 0 {
			return errors.Errorf("eltwise: %s with zero divisor", d.Op)
		}
	}
	switch d.Op {
	case compute.FinalizeScaleRoot, compute.FinalizeClampRoot, compute.FinalizeAddRoot:
		if d.Power == 0 || math.IsNaN(float64(d.Power)) {
			return errors.Errorf("eltwise: %s with power %v", d.Op, d.Power)
		}
	}
	return nil
}

// Apply is the scalar transform, without the destination conversion.
func (d *Desc) Apply(x float64) float64 {
	return d.Op.Apply(x, d.Div, float64(d.Eps), float64(d.Power))
}

func (d *Desc) String() string {
	return fmt.Sprintf("%s %s->%s n=%d div=%g eps=%g p=%g", d.Op, d.SrcType, d.DstType, d.NumElements, d.Div, d.Eps, d.Power)
}

// Key is the compile-time part of a Desc.
type Key struct {
	Op      compute.FinalizeOp
	SrcType tensor.DataType
	DstType tensor.DataType
}

// Key returns the cache key of d.
func (d *Desc) Key() Key {
	return Key{Op: d.Op, SrcType: d.SrcType, DstType: d.DstType}
}

// Serialize encodes the key as three little-endian int32 values.
func (k Key) Serialize() []byte {
	s := serialization.NewSerializer(12)
	s.AppendInt32(int32(k.Op))
	s.AppendInt32(int32(k.SrcType))
	s.AppendInt32(int32(k.DstType))
	return s.Bytes()
}

// DeserializeKey decodes a key written by Serialize.
func DeserializeKey(data []byte) (Key, error) {
	d := serialization.NewDeserializer(data)
	k := Key{
		Op:      compute.FinalizeOp(d.PopInt32("op")),
		SrcType: tensor.DataType(d.PopInt32("src_type")),
		DstType: tensor.DataType(d.PopInt32("dst_type")),
	}
	if err := d.Finish(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// KernelCtx renders the key as defines.
func (k Key) KernelCtx() *compute.KernelCtx {
	ctx := compute.NewKernelCtx()
	ctx.Define(compute.DefEltwiseOp, int64(k.Op))
	ctx.Define(compute.DefSrcType, int64(k.SrcType))
	ctx.Define(compute.DefDstType, int64(k.DstType))
	return ctx
}
