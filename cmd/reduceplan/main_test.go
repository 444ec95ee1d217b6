package main

import (
	"bytes"
	"testing"

	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/born-ml/atomicreduce/reduce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDims(t *testing.T) {
	dims, err := parseDims(" 0, 2 ,")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, dims)

	_, err = parseDims("one")
	assert.Error(t, err)
	_, err = parseDims("")
	assert.Error(t, err)
}

func TestLoadDevice(t *testing.T) {
	dev, err := loadDevice("tiny-test", "")
	require.NoError(t, err)
	assert.Equal(t, 4, dev.SubgroupSize)

	_, err = loadDevice("no-such-device", "")
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	dev, err := loadDevice("tiny-test", "")
	require.NoError(t, err)
	desc, err := reduce.NewDesc(reduce.Mean, reduce.Float32, reduce.Float32, reduce.Shape{2, 200, 8}, []int{1})
	require.NoError(t, err)
	plan, err := reduce.Plan(desc, dev)
	require.NoError(t, err)

	var out bytes.Buffer
	report(&out, desc, dev, plan)
	text := out.String()
	assert.Contains(t, text, "Phases")
	assert.Contains(t, text, "tiny-test")
	assert.Contains(t, text, "164..200")
}

func TestSequentialFold(t *testing.T) {
	dev, err := loadDevice("tiny-test", "")
	require.NoError(t, err)
	desc, err := reduce.NewDesc(reduce.Mean, reduce.Float32, reduce.Float32, reduce.Shape{1, 4, 2}, []int{1})
	require.NoError(t, err)
	plan, err := reduce.Plan(desc, dev)
	require.NoError(t, err)

	got := sequentialFold(desc, plan, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Equal(t, []float64{4, 5}, got)
}

func TestRunOnHost(t *testing.T) {
	dev, err := loadDevice("tiny-test", "")
	require.NoError(t, err)
	desc, err := reduce.NewDesc(reduce.Sum, reduce.Float32, reduce.Float32, reduce.Shape{2, 200, 8}, []int{1})
	require.NoError(t, err)
	require.NoError(t, run(desc, dev, nil, 7))
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, withinTolerance(tensor.Float32, 1, 1))
	assert.True(t, withinTolerance(tensor.Float16, 1000, 1000.5))
	assert.False(t, withinTolerance(tensor.Float32, 1000, 1000.5))
	assert.True(t, withinTolerance(tensor.Int8, 3, 4))
	assert.False(t, withinTolerance(tensor.Int8, 3, 5))
}
