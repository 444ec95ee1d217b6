package tensor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Shape represents the logical dimensions of a dense row-major array.
type Shape []int

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	n := 1 // Scalar has 1 element
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return errors.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// Product returns the product of dimensions in [from, to).
func (s Shape) Product(from, to int) int {
	n := 1
	for _, dim := range s[from:to] {
		n *= dim
	}
	return n
}

// String formats the shape as "(2, 3, 4)".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = strconv.Itoa(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseShape parses "2x3x4" or "2,3,4".
func ParseShape(text string) (Shape, error) {
	fields := strings.FieldsFunc(text, func(r rune) bool { return r == 'x' || r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, errors.Errorf("empty shape %q", text)
	}
	shape := make(Shape, len(fields))
	for i, f := range fields {
		dim, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "dimension %d of shape %q", i, text)
		}
		shape[i] = dim
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return shape, nil
}

// MustParseShape is ParseShape for literals in tests and examples.
func MustParseShape(text string) Shape {
	s, err := ParseShape(text)
	if err != nil {
		panic(fmt.Sprintf("tensor.MustParseShape: %v", err))
	}
	return s
}
