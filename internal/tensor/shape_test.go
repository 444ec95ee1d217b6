package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeBasics(t *testing.T) {
	s := Shape{2, 3, 4}
	assert.Equal(t, 24, s.NumElements())
	assert.Equal(t, []int{12, 4, 1}, s.ComputeStrides())
	assert.Equal(t, 12, s.Product(1, 3))
	assert.Equal(t, 1, s.Product(1, 1))
	assert.Equal(t, "(2, 3, 4)", s.String())
	assert.Equal(t, 1, Shape{}.NumElements())

	c := s.Clone()
	c[0] = 7
	assert.Equal(t, 2, s[0])
	assert.False(t, s.Equal(c))
	assert.True(t, s.Equal(Shape{2, 3, 4}))
}

func TestShapeValidate(t *testing.T) {
	require.NoError(t, Shape{1, 2}.Validate())
	require.Error(t, Shape{1, 0}.Validate())
	require.Error(t, Shape{-1}.Validate())
}

func TestParseShape(t *testing.T) {
	s, err := ParseShape("2x3x4")
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3, 4}, s)

	s, err = ParseShape("8,1")
	require.NoError(t, err)
	assert.Equal(t, Shape{8, 1}, s)

	for _, bad := range []string{"", "2xq", "3x0"} {
		_, err := ParseShape(bad)
		assert.Error(t, err, bad)
	}
	assert.Panics(t, func() { MustParseShape("nope") })
}
