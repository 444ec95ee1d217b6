package host

import (
	"context"
	"fmt"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/parallel"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
)

// reduceKernel is a compiled atomic_reduce variant.
type reduceKernel struct {
	alg      reduction.Alg
	op       reduction.CombineOp
	srcType  tensor.DataType
	dstType  tensor.DataType
	accType  tensor.DataType
	isFirst  bool
	isFinal  bool
	threads  int // work-items per subgroup lane along the reduction, THREADS_PER_EU
	subgroup int
	vect     int
	full     int
	tail     int
	global   int
	localAcc int64
	blockDim [compute.NumBlocks]int8
	lws      [3]int
}

func compileReduce(kctx *compute.KernelCtx, dev compute.DeviceInfo) (*reduceKernel, error) {
	r := kctx.Reader()
	k := &reduceKernel{
		alg:      reduction.Alg(r.Int(compute.DefAlg)),
		srcType:  tensor.DataType(r.Int(compute.DefSrcType)),
		dstType:  tensor.DataType(r.Int(compute.DefDstType)),
		accType:  tensor.DataType(r.Int(compute.DefAccType)),
		isFirst:  r.Bool(compute.DefIsFirst),
		isFinal:  r.Bool(compute.DefIsFinal),
		threads:  int(r.Int(compute.DefThreadsPerEU)),
		subgroup: int(r.Int(compute.DefSubgroupSize)),
		vect:     int(r.Int(compute.DefVectSize)),
		full:     int(r.Int(compute.DefFullUnroll)),
		tail:     int(r.Int(compute.DefTailUnroll)),
		global:   int(r.Int(compute.DefGlobalAcc)),
		localAcc: r.Int(compute.DefLocalAcc),
		blockDim: [compute.NumBlocks]int8{
			int8(r.Int(compute.DefInnerDim)),
			int8(r.Int(compute.DefReductionDim)),
			int8(r.Int(compute.DefOuterDim)),
		},
		lws: [3]int{
			int(r.Int(compute.DefLocalSize0)),
			int(r.Int(compute.DefLocalSize1)),
			int(r.Int(compute.DefLocalSize2)),
		},
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := k.check(dev); err != nil {
		return nil, err
	}
	k.op = k.alg.Combine()
	return k, nil
}

// check rejects configurations the kernel cannot be compiled for.
func (k *reduceKernel) check(dev compute.DeviceInfo) error {
	switch {
	case !k.alg.IsValid():
		return compute.BuildFailuref("atomic_reduce: unknown algorithm %d", k.alg)
	case !k.srcType.IsValid() || !k.dstType.IsValid() || !k.accType.IsValid():
		return compute.BuildFailuref("atomic_reduce: invalid data types")
	case k.srcType == tensor.Bool || k.srcType == tensor.Int64:
		return compute.BuildFailuref("atomic_reduce: cannot load %s", k.srcType)
	case k.subgroup <= 0 || k.subgroup&(k.subgroup-1) != 0:
		return compute.BuildFailuref("atomic_reduce: subgroup size %d", k.subgroup)
	case k.vect != 1 && k.vect != 2 && k.vect != 4 && k.vect != 8:
		return compute.BuildFailuref("atomic_reduce: vector size %d", k.vect)
	case k.threads <= 0 || k.global <= 0:
		return compute.BuildFailuref("atomic_reduce: %d threads, %d global accumulators", k.threads, k.global)
	case k.full <= 0 || k.full&(k.full-1) != 0 || k.tail < 0 || k.tail >= k.full:
		return compute.BuildFailuref("atomic_reduce: unroll %d/%d", k.full, k.tail)
	case k.isFinal && k.global != 1:
		return compute.BuildFailuref("atomic_reduce: final phase shares outputs between %d work-groups", k.global)
	case k.lws != [3]int{k.subgroup, k.threads, 1}:
		return compute.BuildFailuref("atomic_reduce: work-group %v does not match subgroup %d x %d threads",
			k.lws, k.subgroup, k.threads)
	case k.blockDim != [compute.NumBlocks]int8{0, 1, 2}:
		return compute.BuildFailuref("atomic_reduce: unsupported block mapping %v", k.blockDim)
	}
	wantLocal := int64(0)
	if k.threads > 1 {
		wantLocal = int64(k.threads * k.subgroup * k.vect * k.accType.Size())
	}
	if k.localAcc != wantLocal {
		return compute.BuildFailuref("atomic_reduce: local accumulator %d bytes, kernel needs %d", k.localAcc, wantLocal)
	}
	if k.usesAtomics() {
		if !k.alg.AtomicCombinable() {
			return compute.BuildFailuref("atomic_reduce: %s has no atomic form", k.alg)
		}
		if !dev.SupportsAtomics(k.accType) {
			return compute.BuildFailuref("atomic_reduce: %s has no %s atomics", dev.Name, k.accType)
		}
	}
	return nil
}

// usesAtomics reports whether the kernel combines into shared accumulator cells.
func (k *reduceKernel) usesAtomics() bool {
	return !k.isFinal && !(k.isFirst && k.global == 1)
}

func (k *reduceKernel) Name() string { return compute.KernelAtomicReduce }

func (k *reduceKernel) String() string {
	return fmt.Sprintf("%s[%s first=%t final=%t G=%d]", k.Name(), k.alg, k.isFirst, k.isFinal, k.global)
}

type reduceArgs struct {
	src, acc, dst *Buffer
	start, size   int
	count         int // full reduction count: the row stride of the source
	outer, inner  int
	power         float32
}

func (k *reduceKernel) parseArgs(args *compute.ArgList) (*reduceArgs, error) {
	ints := make([]int, 0, 5)
	for _, i := range []int{compute.ReduceArgReductionStart, compute.ReduceArgReductionSize,
		compute.ReduceArgReductionCount, compute.ReduceArgOuter, compute.ReduceArgInner} {
		v, err := args.Int(i)
		if err != nil {
			return nil, err
		}
		ints = append(ints, int(v))
	}
	power, err := args.Float(compute.ReduceArgPower)
	if err != nil {
		return nil, err
	}
	a := &reduceArgs{start: ints[0], size: ints[1], count: ints[2], outer: ints[3], inner: ints[4],
		power: float32(power)}
	if a.start < 0 || a.size <= 0 || a.start+a.size > a.count || a.outer <= 0 || a.inner <= 0 {
		return nil, compute.LaunchFailuref("atomic_reduce: rows [%d, %d) of %d, outer %d, inner %d",
			a.start, a.start+a.size, a.count, a.outer, a.inner)
	}

	srcArg, err := args.Buffer(compute.ReduceArgSrc)
	if err != nil {
		return nil, err
	}
	if a.src, err = hostBuffer(srcArg, "src"); err != nil {
		return nil, err
	}
	if err := checkSize(a.src, "src", a.outer*a.count*a.inner, k.srcType.Size()); err != nil {
		return nil, err
	}
	outputs := a.outer * a.inner
	if !k.isFinal || !k.isFirst {
		accArg, err := args.Buffer(compute.ReduceArgAcc)
		if err != nil {
			return nil, err
		}
		if a.acc, err = hostBuffer(accArg, "acc"); err != nil {
			return nil, err
		}
		if err := checkSize(a.acc, "acc", outputs, k.accType.Size()); err != nil {
			return nil, err
		}
	}
	if k.isFinal {
		dstArg, err := args.Buffer(compute.ReduceArgDst)
		if err != nil {
			return nil, err
		}
		if a.dst, err = hostBuffer(dstArg, "dst"); err != nil {
			return nil, err
		}
		if err := checkSize(a.dst, "dst", outputs, k.dstType.Size()); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (k *reduceKernel) run(ctx context.Context, b *Backend, nd compute.NDRange, args *compute.ArgList) error {
	a, err := k.parseArgs(args)
	if err != nil {
		return err
	}
	if nd.Local != k.lws {
		return compute.LaunchFailuref("atomic_reduce: launched with work-group %v, compiled for %v", nd.Local, k.lws)
	}
	want := [3]int{compute.RoundUp(compute.DivUp(a.inner, k.vect), k.subgroup), k.threads * k.global, a.outer}
	if nd.Global != want {
		return compute.LaunchFailuref("atomic_reduce: global size %v, want %v", nd.Global, want)
	}

	groups := nd.Groups()
	return parallel.ForErr(ctx, nd.NumGroups(), func(g int) error {
		x, y, z := groupIndex(g, groups)
		k.runGroup(a, x, y, z)
		return nil
	}, b.cfg)
}

// runGroup executes one work-group: tile x of the inner block, accumulator split y, outer
// index z.
func (k *reduceKernel) runGroup(a *reduceArgs, x, y, z int) {
	lanes := k.subgroup * k.vect
	local := make([]float64, k.threads*lanes)
	ident := identity(k.accType, k.op)

	chunk := compute.DivUp(a.size, k.global)
	begin := a.start + y*chunk
	end := min(begin+chunk, a.start+a.size)

	for t := range k.threads {
		for slot := range lanes {
			acc := ident
			i := x*lanes + slot
			if i < a.inner {
				acc = k.foldRows(a, z, i, begin+t, end, acc)
			}
			local[t*lanes+slot] = acc
		}
	}

	// Tree reduction over the work-items of the reduction dimension.
	for stride := nextPow2(k.threads) / 2; stride > 0; stride /= 2 {
		for t := range stride {
			if t+stride < k.threads {
				for slot := range lanes {
					v := k.op.Apply(local[t*lanes+slot], local[(t+stride)*lanes+slot])
					local[t*lanes+slot] = quantize(k.accType, v)
				}
			}
		}
	}

	for slot := range lanes {
		i := x*lanes + slot
		if i >= a.inner {
			break
		}
		k.store(a, z*a.inner+i, local[slot])
	}
}

// foldRows folds rows r, r+threads, ... below end of column i into acc, in blocks of the
// full unroll factor followed by the tail.
func (k *reduceKernel) foldRows(a *reduceArgs, z, i, r, end int, acc float64) float64 {
	step := k.threads
	fold := func(row int) {
		x := tensor.Decode(k.srcType, a.src.data, (z*a.count+row)*a.inner+i)
		acc = quantize(k.accType, k.op.Apply(acc, k.alg.Prepare(x, a.power)))
	}
	for ; r+(k.full-1)*step < end; r += k.full * step {
		for u := range k.full {
			fold(r + u*step)
		}
	}
	for ; r < end; r += step {
		fold(r)
	}
	return acc
}

// store publishes the work-group result v for output idx.
func (k *reduceKernel) store(a *reduceArgs, idx int, v float64) {
	switch {
	case k.isFinal:
		if !k.isFirst {
			v = quantize(k.accType, k.op.Apply(tensor.Decode(k.accType, a.acc.data, idx), v))
		}
		tensor.Encode(k.dstType, a.dst.data, idx, v)
	case k.isFirst && k.global == 1:
		tensor.Encode(k.accType, a.acc.data, idx, v)
	default:
		atomicCombine(a.acc, k.accType, idx, k.op, v)
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
