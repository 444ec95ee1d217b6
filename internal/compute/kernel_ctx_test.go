package compute

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKernelCtx(t *testing.T) {
	ctx := NewKernelCtx()
	ctx.Define("B", 2)
	ctx.DefineBool("A", true)
	ctx.DefineBool("C", false)
	ctx.Define("B", 3)

	assert.Equal(t, []string{"A", "B", "C"}, ctx.Names())
	assert.Equal(t, "-DA=1 -DB=3 -DC=0", ctx.Options())
	assert.Equal(t, 3, ctx.Len())

	r := ctx.Reader()
	assert.True(t, r.Bool("A"))
	assert.Equal(t, int64(3), r.Int("B"))
	assert.NoError(t, r.Err())

	r.Int("MISSING")
	r.Int("ALSO_MISSING")
	err := r.Err()
	assert.True(t, errors.Is(err, ErrBuildFailure))
	assert.Contains(t, err.Error(), "MISSING, ALSO_MISSING")
}

func TestNDRange(t *testing.T) {
	nd := NDRange{Global: [3]int{32, 8, 3}, Local: [3]int{16, 4, 1}}
	assert.NoError(t, nd.Validate())
	assert.Equal(t, [3]int{2, 2, 3}, nd.Groups())
	assert.Equal(t, 12, nd.NumGroups())

	bad := NDRange{Global: [3]int{30, 8, 3}, Local: [3]int{16, 4, 1}}
	assert.True(t, errors.Is(bad.Validate(), ErrLaunchFailure))
	assert.Error(t, NDRange{}.Validate())

	assert.Equal(t, 48, RoundUp(33, 16))
	assert.Equal(t, 3, DivUp(33, 16))
}

func TestArgList(t *testing.T) {
	args := NewArgList(3).SetInt(0, 7).SetFloat(1, 0.5)
	v, err := args.Int(0)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = args.Int(1)
	assert.True(t, errors.Is(err, ErrLaunchFailure))
	_, err = args.Buffer(2)
	assert.Error(t, err)
	_, err = args.Float(5)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrUnimplemented, Classify(Unimplementedf("x %d", 1)))
	assert.Equal(t, ErrBuildFailure, Classify(BuildFailuref("x")))
	assert.Equal(t, ErrLaunchFailure, Classify(errors.WithMessage(LaunchFailuref("x"), "outer")))
	assert.Equal(t, ErrAllocationFailure, Classify(AllocationFailuref("x")))
	assert.Nil(t, Classify(errors.New("other")))
}
