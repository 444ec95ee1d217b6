package reduction

import (
	"fmt"
	"math"
	"slices"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
)

// ErrInvalidSubproblem is returned for descriptors that are malformed (as opposed to
// well-formed but unsupported, which is compute.ErrUnimplemented).
var ErrInvalidSubproblem = errors.New("invalid reduction subproblem")

// Subproblem is the canonical three-block view of a reduction: the source is a dense
// [Outer][Reduction][Inner] array and the destination a dense [Outer][Inner] array.
type Subproblem struct {
	OuterBlock     int
	ReductionBlock int
	InnerBlock     int
}

// NumOutputs is the number of destination elements.
func (s Subproblem) NumOutputs() int { return s.OuterBlock * s.InnerBlock }

// NumInputs is the number of source elements.
func (s Subproblem) NumInputs() int { return s.OuterBlock * s.ReductionBlock * s.InnerBlock }

func (s Subproblem) String() string {
	return fmt.Sprintf("outer=%d reduction=%d inner=%d", s.OuterBlock, s.ReductionBlock, s.InnerBlock)
}

// Desc is the immutable description of one reduction. Create it with NewDesc.
type Desc struct {
	Alg      Alg
	SrcType  tensor.DataType
	DstType  tensor.DataType
	P        float32 // power for the norm and power-mean algorithms
	Eps      float32 // epsilon for the norm algorithms
	SrcShape tensor.Shape
	DstShape tensor.Shape // same rank as SrcShape, reduced dimensions are 1

	sub Subproblem
}

// Option configures optional Desc parameters.
type Option func(*Desc)

// WithPower sets p for the norm and power-mean algorithms (default 2).
func WithPower(p float32) Option { return func(d *Desc) { d.P = p } }

// WithEps sets the epsilon of the norm algorithms (default 0).
func WithEps(eps float32) Option { return func(d *Desc) { d.Eps = eps } }

// NewDesc validates and normalizes a reduction over reducedDims of srcShape.
func NewDesc(alg Alg, srcType, dstType tensor.DataType, srcShape tensor.Shape, reducedDims []int, opts ...Option) (*Desc, error) {
	if err := srcShape.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInvalidSubproblem, "source shape: %v", err)
	}
	dst := srcShape.Clone()
	for _, dim := range reducedDims {
		if dim < 0 {
			dim += len(srcShape)
		}
		if dim < 0 || dim >= len(srcShape) {
			return nil, errors.Wrapf(ErrInvalidSubproblem, "reduced dimension %d out of range for rank %d", dim, len(srcShape))
		}
		dst[dim] = 1
	}
	return NewDescFromShapes(alg, srcType, dstType, srcShape, dst, opts...)
}

// NewDescFromShapes builds a Desc from source and destination shapes of the same rank: every
// dimension where they differ must be 1 in the destination and is reduced.
func NewDescFromShapes(alg Alg, srcType, dstType tensor.DataType, srcShape, dstShape tensor.Shape, opts ...Option) (*Desc, error) {
	d := &Desc{
		Alg:      alg,
		SrcType:  srcType,
		DstType:  dstType,
		P:        2,
		SrcShape: srcShape.Clone(),
		DstShape: dstShape.Clone(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	sub, err := decompose(d.SrcShape, d.DstShape)
	if err != nil {
		return nil, err
	}
	d.sub = sub
	return d, nil
}

// Subproblem returns the three-block view.
func (d *Desc) Subproblem() Subproblem { return d.sub }

// ReductionCount is the number of source elements folded into each destination element.
func (d *Desc) ReductionCount() int { return d.sub.ReductionBlock }

// Equal reports whether two descriptors describe the same computation.
func (d *Desc) Equal(o *Desc) bool {
	return d.Alg == o.Alg && d.SrcType == o.SrcType && d.DstType == o.DstType &&
		d.P == o.P && d.Eps == o.Eps && d.SrcShape.Equal(o.SrcShape) && d.DstShape.Equal(o.DstShape)
}

func (d *Desc) String() string {
	return fmt.Sprintf("%s %s%s -> %s%s (%s)", d.Alg, d.SrcType, d.SrcShape, d.DstType, d.DstShape, d.sub)
}

func (d *Desc) validate() error {
	if !d.Alg.IsValid() {
		return errors.Wrapf(ErrInvalidSubproblem, "unknown algorithm %d", d.Alg)
	}
	for _, dt := range []tensor.DataType{d.SrcType, d.DstType} {
		if !dt.IsValid() {
			return errors.Wrapf(ErrInvalidSubproblem, "unknown data type %d", dt)
		}
		if dt == tensor.Bool || dt == tensor.Int64 {
			return compute.Unimplementedf("reduction of %s is not supported", dt)
		}
	}
	if d.Alg.AppliesPower() && (d.P == 0 || math.IsNaN(float64(d.P))) {
		return errors.Wrapf(ErrInvalidSubproblem, "%s requires a non-zero power, got %v", d.Alg, d.P)
	}
	if d.Eps < 0 {
		return errors.Wrapf(ErrInvalidSubproblem, "negative epsilon %v", d.Eps)
	}
	if err := d.DstShape.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidSubproblem, "destination shape: %v", err)
	}
	if len(d.SrcShape) != len(d.DstShape) {
		return errors.Wrapf(ErrInvalidSubproblem, "rank mismatch: source %s, destination %s", d.SrcShape, d.DstShape)
	}
	for i := range d.SrcShape {
		if d.DstShape[i] != d.SrcShape[i] && d.DstShape[i] != 1 {
			return errors.Wrapf(ErrInvalidSubproblem, "dimension %d: destination %d must equal source %d or be 1",
				i, d.DstShape[i], d.SrcShape[i])
		}
	}
	return nil
}

// decompose folds the shapes into outer/reduction/inner blocks. Size-1 dimensions are ignored;
// the reduced dimensions must then be adjacent.
func decompose(src, dst tensor.Shape) (Subproblem, error) {
	var reduced []int
	for i := range src {
		if src[i] > 1 && dst[i] == 1 {
			reduced = append(reduced, i)
		}
	}
	if len(reduced) == 0 {
		return Subproblem{OuterBlock: src.NumElements(), ReductionBlock: 1, InnerBlock: 1}, nil
	}
	first, last := reduced[0], reduced[len(reduced)-1]
	for i := first; i <= last; i++ {
		if src[i] > 1 && !slices.Contains(reduced, i) {
			return Subproblem{}, compute.Unimplementedf("reduced dimensions %v of %s are not contiguous", reduced, src)
		}
	}
	return Subproblem{
		OuterBlock:     src.Product(0, first),
		ReductionBlock: src.Product(first, last+1),
		InnerBlock:     src.Product(last+1, len(src)),
	}, nil
}
