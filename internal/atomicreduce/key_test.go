package atomicreduce

import (
	"testing"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/serialization"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleKey() KeyParams {
	return KeyParams{
		Alg:          reduction.NormLpSum,
		SrcType:      tensor.Float16,
		DstType:      tensor.Float32,
		IsFirst:      true,
		IsFinal:      false,
		ThreadsPerEU: 8,
		SubgroupSize: 16,
		VectSize:     4,
		FullUnroll:   8,
		TailUnroll:   3,
		GlobalAcc:    12,
		LocalAcc:     2048,
		Params: compute.DispatchCompileParams{
			BlockDim:  [compute.NumBlocks]int8{0, 1, 2},
			LocalSize: [3]int32{16, 8, 1},
		},
	}
}

func TestKeyRoundTrip(t *testing.T) {
	key := sampleKey()
	data := key.Serialize()
	require.Len(t, data, SerializedKeySize)

	back, err := DeserializeKeyParams(data)
	require.NoError(t, err)
	assert.True(t, key.Equal(back))
	assert.Equal(t, data, back.Serialize())
}

func TestKeyRoundTripOfPlannedKeys(t *testing.T) {
	desc := mustDesc(t, reduction.PowerMean, tensor.Float32, tensor.Float16, "2x500x8", 1)
	plan, err := Plan(desc, tinyDevice(t), Hints{})
	require.NoError(t, err)
	require.Greater(t, len(plan.Phases), 1)
	for _, phase := range plan.Phases {
		data := phase.Key.Serialize()
		back, err := DeserializeKeyParams(data)
		require.NoError(t, err)
		assert.Equal(t, phase.Key, back)
		assert.Equal(t, data, back.Serialize())
	}
}

func TestKeyEquality(t *testing.T) {
	a, b := sampleKey(), sampleKey()
	assert.True(t, a.Equal(b))

	b.Padding = [2]byte{1, 0}
	assert.True(t, a.Equal(b), "padding is not semantic")
	assert.Equal(t, a.Serialize(), b.Serialize(), "padding is always written as zero")

	mutations := []func(*KeyParams){
		func(k *KeyParams) { k.Alg = reduction.Sum },
		func(k *KeyParams) { k.SrcType = tensor.Float32 },
		func(k *KeyParams) { k.DstType = tensor.Float64 },
		func(k *KeyParams) { k.IsFirst = false },
		func(k *KeyParams) { k.IsFinal = true },
		func(k *KeyParams) { k.ThreadsPerEU = 4 },
		func(k *KeyParams) { k.SubgroupSize = 32 },
		func(k *KeyParams) { k.VectSize = 2 },
		func(k *KeyParams) { k.FullUnroll = 4 },
		func(k *KeyParams) { k.TailUnroll = 1 },
		func(k *KeyParams) { k.GlobalAcc = 1 },
		func(k *KeyParams) { k.LocalAcc = 0 },
		func(k *KeyParams) { k.Params.LocalSize[1] = 4 },
		func(k *KeyParams) { k.Params.BlockDim[0] = 2 },
	}
	for i, mutate := range mutations {
		c := sampleKey()
		mutate(&c)
		assert.False(t, a.Equal(c), "mutation %d", i)
		assert.NotEqual(t, a.Serialize(), c.Serialize(), "mutation %d", i)
	}
}

func TestDeserializeRejectsForeignBytes(t *testing.T) {
	data := sampleKey().Serialize()

	padded := append([]byte(nil), data...)
	padded[14] = 1
	_, err := DeserializeKeyParams(padded)
	assert.True(t, errors.Is(err, serialization.ErrInvalidValue))

	badBool := append([]byte(nil), data...)
	badBool[12] = 2
	_, err = DeserializeKeyParams(badBool)
	assert.True(t, errors.Is(err, serialization.ErrInvalidValue))

	_, err = DeserializeKeyParams(data[:40])
	assert.True(t, errors.Is(err, serialization.ErrShortBuffer))

	_, err = DeserializeKeyParams(append(data, 0))
	assert.True(t, errors.Is(err, serialization.ErrTrailingBytes))
}

func TestKeyKernelCtx(t *testing.T) {
	key := sampleKey()
	ctx := key.KernelCtx()

	acc, ok := ctx.Get(compute.DefAccType)
	require.True(t, ok)
	assert.Equal(t, int64(tensor.Float32), acc)
	first, _ := ctx.Get(compute.DefIsFirst)
	assert.Equal(t, int64(1), first)
	lws, _ := ctx.Get(compute.DefLocalSize1)
	assert.Equal(t, int64(8), lws)
	assert.Equal(t, key.KernelCtx().Options(), ctx.Options())
	assert.Equal(t, compute.KernelAtomicReduce, key.KernelName())
}
