package webgpu

import (
	"strings"
	"testing"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reduceCtx(alg reduction.Alg, dt tensor.DataType, first, final bool, global int) *compute.KernelCtx {
	ctx := compute.NewKernelCtx()
	ctx.Define(compute.DefAlg, int64(alg))
	ctx.Define(compute.DefSrcType, int64(dt))
	ctx.Define(compute.DefDstType, int64(dt))
	ctx.Define(compute.DefAccType, int64(dt))
	ctx.DefineBool(compute.DefIsFirst, first)
	ctx.DefineBool(compute.DefIsFinal, final)
	ctx.Define(compute.DefThreadsPerEU, 4)
	ctx.Define(compute.DefSubgroupSize, 32)
	ctx.Define(compute.DefVectSize, 2)
	ctx.Define(compute.DefFullUnroll, 4)
	ctx.Define(compute.DefTailUnroll, 1)
	ctx.Define(compute.DefGlobalAcc, int64(global))
	return ctx
}

func TestParseReduce(t *testing.T) {
	c, err := parseReduce(reduceCtx(reduction.Max, tensor.Float32, true, false, 4))
	require.NoError(t, err)
	assert.Equal(t, reduceConfig{alg: reduction.Max, isFirst: true, threads: 4, subgroup: 32, vect: 2, full: 4, global: 4}, c)
	assert.True(t, c.atomic())
	assert.True(t, c.usesAcc())

	_, err = parseReduce(reduceCtx(reduction.Sum, tensor.Float16, true, true, 1))
	assert.True(t, errors.Is(err, compute.ErrBuildFailure))

	_, err = parseReduce(reduceCtx(reduction.Mul, tensor.Float32, false, false, 1))
	assert.True(t, errors.Is(err, compute.ErrBuildFailure))

	_, err = parseReduce(reduceCtx(reduction.Sum, tensor.Float32, false, true, 2))
	assert.True(t, errors.Is(err, compute.ErrBuildFailure))

	_, err = parseReduce(compute.NewKernelCtx())
	assert.True(t, errors.Is(err, compute.ErrBuildFailure))
}

func TestReduceShaderVariants(t *testing.T) {
	tests := []struct {
		name          string
		first, final  bool
		global        int
		store         string
		acc, dst, cas bool
	}{
		{"single phase", true, true, 1, "dst[idx] = res;", false, true, false},
		{"first stores", true, false, 1, "atomicStore(&acc[idx], bitcast<u32>(res));", true, false, false},
		{"first shared", true, false, 2, "atomic_combine(idx, res);", true, false, true},
		{"middle", false, false, 1, "atomic_combine(idx, res);", true, false, true},
		{"final", false, true, 1, "dst[idx] = combine(bitcast<f32>(atomicLoad(&acc[idx])), res);", true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseReduce(reduceCtx(reduction.NormLpSum, tensor.Float32, tt.first, tt.final, tt.global))
			require.NoError(t, err)
			code := reduceShader(c)
			assert.Contains(t, code, tt.store)
			assert.Equal(t, tt.acc, strings.Contains(code, "var<storage, read_write> acc"))
			assert.Equal(t, tt.dst, strings.Contains(code, "var<storage, read_write> dst"))
			assert.Equal(t, tt.cas, strings.Contains(code, "atomicCompareExchangeWeak"))
			assert.Contains(t, code, "@workgroup_size(32, 4, 1)")
			assert.Contains(t, code, "var<workgroup> partial: array<f32, 256>;")
			assert.Contains(t, code, "pow(abs(x), params.power)")
			assert.Equal(t, 4, strings.Count(code, "a = combine(a, load(z, r + "))
			// threads = 4: strides 2 and 1
			assert.Equal(t, 3, strings.Count(code, "workgroupBarrier();"))
		})
	}
}

func TestReduceShaderIdentity(t *testing.T) {
	for alg, ident := range map[reduction.Alg]string{
		reduction.Sum: "var a = 0.0;",
		reduction.Max: "var a = bitcast<f32>(0xff800000u);",
		reduction.Min: "var a = bitcast<f32>(0x7f800000u);",
	} {
		c, err := parseReduce(reduceCtx(alg, tensor.Float32, true, true, 1))
		require.NoError(t, err)
		assert.Contains(t, reduceShader(c), ident, alg.String())
	}
}

func TestEltwiseShader(t *testing.T) {
	ctx := compute.NewKernelCtx()
	ctx.Define(compute.DefEltwiseOp, int64(compute.FinalizeScaleRoot))
	ctx.Define(compute.DefSrcType, int64(tensor.Float32))
	ctx.Define(compute.DefDstType, int64(tensor.Float32))
	op, err := parseEltwise(ctx)
	require.NoError(t, err)

	code := eltwiseShader(op, false)
	assert.Contains(t, code, "dst[i] = pow(x / params.div, 1.0 / params.power);")
	assert.Contains(t, code, "var<storage, read> src")

	inPlace := eltwiseShader(op, true)
	assert.NotContains(t, inPlace, "src")
	assert.Contains(t, inPlace, "let x = dst[i];")

	ctx.Define(compute.DefDstType, int64(tensor.Int8))
	_, err = parseEltwise(ctx)
	assert.True(t, errors.Is(err, compute.ErrBuildFailure))
}
