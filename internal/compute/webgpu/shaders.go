// Package webgpu runs reduction kernels on a WebGPU device. Kernels are generated as WGSL
// from the kernel context; only float32 data is supported because WGSL has no portable
// atomics or storage types for the other widths.
//
// The device code needs the native wgpu library and is only built with the gpu tag. Shader
// generation is plain Go and always available.
package webgpu

import (
	"fmt"
	"strings"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
)

// Name identifies the backend in kernel cache keys.
const Name = "webgpu"

// Bindings shared by every generated shader.
const (
	bindingSrc    = 0
	bindingAcc    = 1
	bindingDst    = 2
	bindingParams = 3
)

// eltwiseWorkgroup matches the work-group size the eltwise primitive launches with.
const eltwiseWorkgroup = 64

// reduceConfig is an atomic_reduce variant as the shader generator sees it.
type reduceConfig struct {
	alg      reduction.Alg
	isFirst  bool
	isFinal  bool
	threads  int
	subgroup int
	vect     int
	full     int
	global   int
}

// usesAcc reports whether the kernel reads or writes the accumulator.
func (c reduceConfig) usesAcc() bool { return !(c.isFirst && c.isFinal) }

// atomic reports whether results are combined into the accumulator with compare-and-swap.
func (c reduceConfig) atomic() bool { return !c.isFinal && !(c.isFirst && c.global == 1) }

func parseReduce(kctx *compute.KernelCtx) (reduceConfig, error) {
	r := kctx.Reader()
	c := reduceConfig{
		alg:      reduction.Alg(r.Int(compute.DefAlg)),
		isFirst:  r.Bool(compute.DefIsFirst),
		isFinal:  r.Bool(compute.DefIsFinal),
		threads:  int(r.Int(compute.DefThreadsPerEU)),
		subgroup: int(r.Int(compute.DefSubgroupSize)),
		vect:     int(r.Int(compute.DefVectSize)),
		full:     int(r.Int(compute.DefFullUnroll)),
		global:   int(r.Int(compute.DefGlobalAcc)),
	}
	types := []tensor.DataType{
		tensor.DataType(r.Int(compute.DefSrcType)),
		tensor.DataType(r.Int(compute.DefDstType)),
		tensor.DataType(r.Int(compute.DefAccType)),
	}
	if err := r.Err(); err != nil {
		return c, err
	}
	for _, dt := range types {
		if dt != tensor.Float32 {
			return c, compute.BuildFailuref("webgpu: atomic_reduce supports float32 only, got %s", dt)
		}
	}
	switch {
	case !c.alg.IsValid():
		return c, compute.BuildFailuref("webgpu: unknown algorithm %d", c.alg)
	case c.threads <= 0 || c.subgroup <= 0 || c.vect <= 0 || c.full <= 0 || c.global <= 0:
		return c, compute.BuildFailuref("webgpu: invalid geometry %+v", c)
	case c.isFinal && c.global != 1:
		return c, compute.BuildFailuref("webgpu: final phase with %d global accumulators", c.global)
	case c.atomic() && !c.alg.AtomicCombinable():
		return c, compute.BuildFailuref("webgpu: %s has no atomic form", c.alg)
	}
	return c, nil
}

func combineExpr(op reduction.CombineOp) string {
	switch op {
	case reduction.CombineMax:
		return "max(a, b)"
	case reduction.CombineMin:
		return "min(a, b)"
	case reduction.CombineMul:
		return "a * b"
	}
	return "a + b"
}

// identityExpr avoids infinity literals, which WGSL rejects.
func identityExpr(op reduction.CombineOp) string {
	switch op {
	case reduction.CombineMax:
		return "bitcast<f32>(0xff800000u)"
	case reduction.CombineMin:
		return "bitcast<f32>(0x7f800000u)"
	case reduction.CombineMul:
		return "1.0"
	}
	return "0.0"
}

func prepareExpr(alg reduction.Alg) string {
	switch alg {
	case reduction.NormLpMax, reduction.NormLpSum, reduction.NormLpPowerPMax, reduction.NormLpPowerPSum:
		return "pow(abs(x), params.power)"
	case reduction.PowerMean:
		return "pow(x, params.power)"
	}
	return "x"
}

// reduceShader generates the WGSL of one atomic_reduce variant. One work-group reduces
// subgroup*vect columns of one outer index over its share of the phase rows; work-item
// (lane, t) folds rows t, t+threads, ... and the work-group then combines the threads in a
// tree.
func reduceShader(c reduceConfig) string {
	op := c.alg.Combine()
	lanes := c.subgroup * c.vect
	var sb strings.Builder

	fmt.Fprintf(&sb, "struct Params {\n  start: u32,\n  size: u32,\n  count: u32,\n  outer: u32,\n  inner: u32,\n  power: f32,\n}\n\n")
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read> src: array<f32>;\n", bindingSrc)
	if c.usesAcc() {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> acc: array<atomic<u32>>;\n", bindingAcc)
	}
	if c.isFinal {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> dst: array<f32>;\n", bindingDst)
	}
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<uniform> params: Params;\n\n", bindingParams)

	fmt.Fprintf(&sb, "const THREADS: u32 = %du;\nconst LANES: u32 = %du;\nconst VECT: u32 = %du;\n", c.threads, lanes, c.vect)
	fmt.Fprintf(&sb, "const GLOBAL_ACC: u32 = %du;\nconst FULL_UNROLL: u32 = %du;\n\n", c.global, c.full)
	fmt.Fprintf(&sb, "var<workgroup> partial: array<f32, %d>;\n\n", c.threads*lanes)

	fmt.Fprintf(&sb, "fn combine(a: f32, b: f32) -> f32 { return %s; }\n", combineExpr(op))
	fmt.Fprintf(&sb, "fn prepare(x: f32) -> f32 { return %s; }\n\n", prepareExpr(c.alg))
	fmt.Fprintf(&sb, "fn load(z: u32, row: u32, i: u32) -> f32 { return prepare(src[(z * params.count + row) * params.inner + i]); }\n\n")

	if c.atomic() {
		sb.WriteString(`fn atomic_combine(idx: u32, v: f32) {
  var old = atomicLoad(&acc[idx]);
  loop {
    let r = atomicCompareExchangeWeak(&acc[idx], old, bitcast<u32>(combine(bitcast<f32>(old), v)));
    if (r.exchanged) { break; }
    old = r.old_value;
  }
}

`)
	}

	fmt.Fprintf(&sb, "@compute @workgroup_size(%d, %d, 1)\n", c.subgroup, c.threads)
	sb.WriteString(`fn main(@builtin(local_invocation_id) lid: vec3<u32>, @builtin(workgroup_id) wid: vec3<u32>) {
  let chunk = (params.size + GLOBAL_ACC - 1u) / GLOBAL_ACC;
  let begin = params.start + wid.y * chunk;
  let end = min(begin + chunk, params.start + params.size);
  let z = wid.z;
  let t = lid.y;
  for (var v = 0u; v < VECT; v++) {
    let slot = lid.x * VECT + v;
    let i = wid.x * LANES + slot;
`)
	fmt.Fprintf(&sb, "    var a = %s;\n", identityExpr(op))
	sb.WriteString("    if (i < params.inner) {\n      var r = begin + t;\n")
	sb.WriteString("      for (; r + (FULL_UNROLL - 1u) * THREADS < end; r += FULL_UNROLL * THREADS) {\n")
	for u := range c.full {
		fmt.Fprintf(&sb, "        a = combine(a, load(z, r + %du * THREADS, i));\n", u)
	}
	sb.WriteString(`      }
      for (; r < end; r += THREADS) {
        a = combine(a, load(z, r, i));
      }
    }
    partial[t * LANES + slot] = a;
  }
  workgroupBarrier();
`)
	for stride := nextPow2(c.threads) / 2; stride > 0; stride /= 2 {
		fmt.Fprintf(&sb, "  if (t + %du < THREADS && t < %du) {\n", stride, stride)
		fmt.Fprintf(&sb, "    for (var v = 0u; v < VECT; v++) {\n      let s = lid.x * VECT + v;\n")
		fmt.Fprintf(&sb, "      partial[t * LANES + s] = combine(partial[t * LANES + s], partial[(t + %du) * LANES + s]);\n    }\n  }\n", stride)
		sb.WriteString("  workgroupBarrier();\n")
	}

	sb.WriteString(`  if (t != 0u) { return; }
  for (var v = 0u; v < VECT; v++) {
    let slot = lid.x * VECT + v;
    let i = wid.x * LANES + slot;
    if (i >= params.inner) { return; }
    let idx = z * params.inner + i;
    let res = partial[slot];
`)
	switch {
	case c.isFinal && c.isFirst:
		sb.WriteString("    dst[idx] = res;\n")
	case c.isFinal:
		sb.WriteString("    dst[idx] = combine(bitcast<f32>(atomicLoad(&acc[idx])), res);\n")
	case c.isFirst && c.global == 1:
		sb.WriteString("    atomicStore(&acc[idx], bitcast<u32>(res));\n")
	default:
		sb.WriteString("    atomic_combine(idx, res);\n")
	}
	sb.WriteString("  }\n}\n")
	return sb.String()
}

func parseEltwise(kctx *compute.KernelCtx) (compute.FinalizeOp, error) {
	r := kctx.Reader()
	op := compute.FinalizeOp(r.Int(compute.DefEltwiseOp))
	src := tensor.DataType(r.Int(compute.DefSrcType))
	dst := tensor.DataType(r.Int(compute.DefDstType))
	if err := r.Err(); err != nil {
		return op, err
	}
	if src != tensor.Float32 || dst != tensor.Float32 {
		return op, compute.BuildFailuref("webgpu: eltwise supports float32 only, got %s -> %s", src, dst)
	}
	if !op.IsValid() {
		return op, compute.BuildFailuref("webgpu: unknown finalization %d", op)
	}
	return op, nil
}

func finalizeExpr(op compute.FinalizeOp) string {
	switch op {
	case compute.FinalizeScale:
		return "x / params.div"
	case compute.FinalizeScaleRoot:
		return "pow(x / params.div, 1.0 / params.power)"
	case compute.FinalizeClampRoot:
		return "pow(max(x, params.eps), 1.0 / params.power)"
	case compute.FinalizeAddRoot:
		return "pow(x + params.eps, 1.0 / params.power)"
	case compute.FinalizeClamp:
		return "max(x, params.eps)"
	}
	return "x + params.eps"
}

// eltwiseShader generates the finalization kernel. WebGPU forbids binding one buffer as
// two writable storage ranges, so the in-place variant binds a single buffer.
func eltwiseShader(op compute.FinalizeOp, inPlace bool) string {
	var sb strings.Builder
	sb.WriteString("struct Params {\n  count: u32,\n  div: f32,\n  eps: f32,\n  power: f32,\n}\n\n")
	if inPlace {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> dst: array<f32>;\n", bindingDst)
	} else {
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read> src: array<f32>;\n", bindingSrc)
		fmt.Fprintf(&sb, "@group(0) @binding(%d) var<storage, read_write> dst: array<f32>;\n", bindingDst)
	}
	fmt.Fprintf(&sb, "@group(0) @binding(%d) var<uniform> params: Params;\n\n", bindingParams)
	fmt.Fprintf(&sb, "@compute @workgroup_size(%d)\n", eltwiseWorkgroup)
	sb.WriteString("fn main(@builtin(global_invocation_id) gid: vec3<u32>) {\n  let i = gid.x;\n  if (i >= params.count) { return; }\n")
	if inPlace {
		sb.WriteString("  let x = dst[i];\n")
	} else {
		sb.WriteString("  let x = src[i];\n")
	}
	fmt.Fprintf(&sb, "  dst[i] = %s;\n}\n", finalizeExpr(op))
	return sb.String()
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
