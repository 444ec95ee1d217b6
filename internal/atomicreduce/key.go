package atomicreduce

import (
	"fmt"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/serialization"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
)

// KeyParams identifies one compiled atomic_reduce kernel. It is a plain value: equal keys
// configure identical kernels, and Serialize is a bijection onto valid encodings.
//
// Layout of the serialized form, little-endian, no alignment:
//
//	offset  size  field
//	0       4     Alg
//	4       4     SrcType
//	8       4     DstType
//	12      1     IsFirst
//	13      1     IsFinal
//	14      2     padding, zero
//	16      4     ThreadsPerEU
//	20      4     SubgroupSize
//	24      4     VectSize
//	28      4     FullUnroll
//	32      4     TailUnroll
//	36      4     GlobalAcc
//	40      8     LocalAcc
//	48      15    Params (3 x int8 block dims, 3 x int32 local size)
type KeyParams struct {
	Alg          reduction.Alg
	SrcType      tensor.DataType
	DstType      tensor.DataType // type the phase writes: the user destination or the accumulator
	IsFirst      bool
	IsFinal      bool
	Padding      [2]byte // always zero
	ThreadsPerEU int32
	SubgroupSize int32
	VectSize     int32
	FullUnroll   int32
	TailUnroll   int32
	GlobalAcc    int32
	LocalAcc     int64 // bytes of work-group local accumulator
	Params       compute.DispatchCompileParams
}

// SerializedKeySize is the length of every serialized key.
const SerializedKeySize = 63

// Serialize encodes the key field by field.
func (k KeyParams) Serialize() []byte {
	s := serialization.NewSerializer(SerializedKeySize)
	s.AppendInt32(int32(k.Alg))
	s.AppendInt32(int32(k.SrcType))
	s.AppendInt32(int32(k.DstType))
	s.AppendBool(k.IsFirst)
	s.AppendBool(k.IsFinal)
	s.AppendPadding(len(k.Padding))
	s.AppendInt32(k.ThreadsPerEU)
	s.AppendInt32(k.SubgroupSize)
	s.AppendInt32(k.VectSize)
	s.AppendInt32(k.FullUnroll)
	s.AppendInt32(k.TailUnroll)
	s.AppendInt32(k.GlobalAcc)
	s.AppendInt64(k.LocalAcc)
	k.Params.SerializeTo(s)
	return s.Bytes()
}

// DeserializeKeyParams decodes a key written by Serialize. It rejects input Serialize could
// not have produced.
func DeserializeKeyParams(data []byte) (KeyParams, error) {
	d := serialization.NewDeserializer(data)
	var k KeyParams
	k.Alg = reduction.Alg(d.PopInt32("alg"))
	k.SrcType = tensor.DataType(d.PopInt32("src_type"))
	k.DstType = tensor.DataType(d.PopInt32("dst_type"))
	k.IsFirst = d.PopBool("is_first")
	k.IsFinal = d.PopBool("is_final")
	d.PopPadding("padding", len(k.Padding))
	k.ThreadsPerEU = d.PopInt32("threads_per_eu")
	k.SubgroupSize = d.PopInt32("subgroup_size")
	k.VectSize = d.PopInt32("vect_size")
	k.FullUnroll = d.PopInt32("full_unroll")
	k.TailUnroll = d.PopInt32("tail_unroll")
	k.GlobalAcc = d.PopInt32("global_acc")
	k.LocalAcc = d.PopInt64("local_acc")
	k.Params = compute.DeserializeDispatchCompileParams(d)
	if err := d.Finish(); err != nil {
		return KeyParams{}, errors.Wrap(err, "atomic reduce key")
	}
	return k, nil
}

// Equal compares every semantic field; padding is ignored.
func (k KeyParams) Equal(o KeyParams) bool {
	k.Padding, o.Padding = [2]byte{}, [2]byte{}
	return k == o
}

// AccType is the type partial results are accumulated in.
func (k KeyParams) AccType() tensor.DataType {
	return reduction.AccumulationType(k.Alg, k.SrcType, k.DstType)
}

// KernelName is the kernel the key configures.
func (k KeyParams) KernelName() string { return compute.KernelAtomicReduce }

// KernelCtx renders the key as compile-time defines.
func (k KeyParams) KernelCtx() *compute.KernelCtx {
	ctx := compute.NewKernelCtx()
	ctx.Define(compute.DefAlg, int64(k.Alg))
	ctx.Define(compute.DefSrcType, int64(k.SrcType))
	ctx.Define(compute.DefDstType, int64(k.DstType))
	ctx.Define(compute.DefAccType, int64(k.AccType()))
	ctx.DefineBool(compute.DefIsFirst, k.IsFirst)
	ctx.DefineBool(compute.DefIsFinal, k.IsFinal)
	ctx.Define(compute.DefThreadsPerEU, int64(k.ThreadsPerEU))
	ctx.Define(compute.DefSubgroupSize, int64(k.SubgroupSize))
	ctx.Define(compute.DefVectSize, int64(k.VectSize))
	ctx.Define(compute.DefFullUnroll, int64(k.FullUnroll))
	ctx.Define(compute.DefTailUnroll, int64(k.TailUnroll))
	ctx.Define(compute.DefGlobalAcc, int64(k.GlobalAcc))
	ctx.Define(compute.DefLocalAcc, k.LocalAcc)
	k.Params.Define(ctx)
	return ctx
}

func (k KeyParams) String() string {
	return fmt.Sprintf("%s %s->%s first=%t final=%t threads=%d sg=%d vect=%d unroll=%d+%d G=%d local=%dB",
		k.Alg, k.SrcType, k.DstType, k.IsFirst, k.IsFinal, k.ThreadsPerEU, k.SubgroupSize, k.VectSize,
		k.FullUnroll, k.TailUnroll, k.GlobalAcc, k.LocalAcc)
}
