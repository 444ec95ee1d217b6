package host

import (
	"context"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/parallel"
	"github.com/born-ml/atomicreduce/internal/tensor"
)

type eltwiseKernel struct {
	op      compute.FinalizeOp
	srcType tensor.DataType
	dstType tensor.DataType
}

func compileEltwise(kctx *compute.KernelCtx) (*eltwiseKernel, error) {
	r := kctx.Reader()
	k := &eltwiseKernel{
		op:      compute.FinalizeOp(r.Int(compute.DefEltwiseOp)),
		srcType: tensor.DataType(r.Int(compute.DefSrcType)),
		dstType: tensor.DataType(r.Int(compute.DefDstType)),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if !k.op.IsValid() {
		return nil, compute.BuildFailuref("eltwise: unknown op %d", k.op)
	}
	if !k.srcType.IsValid() || !k.dstType.IsValid() {
		return nil, compute.BuildFailuref("eltwise: invalid data types %d -> %d", k.srcType, k.dstType)
	}
	return k, nil
}

func (k *eltwiseKernel) Name() string { return compute.KernelEltwiseFinalize }

func (k *eltwiseKernel) run(ctx context.Context, b *Backend, nd compute.NDRange, args *compute.ArgList) error {
	srcArg, err := args.Buffer(compute.EltwiseArgSrc)
	if err != nil {
		return err
	}
	dstArg, err := args.Buffer(compute.EltwiseArgDst)
	if err != nil {
		return err
	}
	count, err := args.Int(compute.EltwiseArgCount)
	if err != nil {
		return err
	}
	div, err := args.Float(compute.EltwiseArgDiv)
	if err != nil {
		return err
	}
	eps, err := args.Float(compute.EltwiseArgEps)
	if err != nil {
		return err
	}
	power, err := args.Float(compute.EltwiseArgPower)
	if err != nil {
		return err
	}

	src, err := hostBuffer(srcArg, "src")
	if err != nil {
		return err
	}
	dst, err := hostBuffer(dstArg, "dst")
	if err != nil {
		return err
	}
	n := int(count)
	if err := checkSize(src, "src", n, k.srcType.Size()); err != nil {
		return err
	}
	if err := checkSize(dst, "dst", n, k.dstType.Size()); err != nil {
		return err
	}
	if src == dst && k.srcType.Size() != k.dstType.Size() {
		return compute.LaunchFailuref("in-place %s -> %s changes the element size", k.srcType, k.dstType)
	}
	if nd.Global[0] < n {
		return compute.LaunchFailuref("range %s covers fewer than %d elements", nd, n)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	groupSize := nd.Local[0]
	parallel.For(compute.DivUp(n, groupSize), func(g int) {
		for i := g * groupSize; i < min((g+1)*groupSize, n); i++ {
			x := tensor.Decode(k.srcType, src.data, i)
			tensor.Encode(k.dstType, dst.data, i, k.op.Apply(x, div, eps, power))
		}
	}, b.cfg)
	return nil
}
