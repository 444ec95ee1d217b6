package compute

import (
	"fmt"

	"github.com/born-ml/atomicreduce/internal/serialization"
)

// Block identifies one of the three blocks of a reduction subproblem.
type Block int8

// Blocks, in the order they are stored in DispatchCompileParams.BlockDim.
const (
	InnerBlock Block = iota
	ReductionBlock
	OuterBlock
	NumBlocks
)

// DispatchCompileParams is the part of the dispatch geometry a kernel is compiled for.
// Values are fixed-size so the record serializes to a constant length.
type DispatchCompileParams struct {
	// BlockDim maps each Block to the ND-range dimension that enumerates it.
	BlockDim [NumBlocks]int8
	// LocalSize is the work-group size.
	LocalSize [3]int32
}

// SerializeTo appends the params in field order.
func (p DispatchCompileParams) SerializeTo(s *serialization.Serializer) {
	for _, d := range p.BlockDim {
		s.AppendInt8(d)
	}
	for _, l := range p.LocalSize {
		s.AppendInt32(l)
	}
}

// DeserializeDispatchCompileParams reads params written by SerializeTo.
func DeserializeDispatchCompileParams(d *serialization.Deserializer) DispatchCompileParams {
	var p DispatchCompileParams
	for i := range p.BlockDim {
		p.BlockDim[i] = d.PopInt8(fmt.Sprintf("block_dim[%d]", i))
	}
	for i := range p.LocalSize {
		p.LocalSize[i] = d.PopInt32(fmt.Sprintf("local_size[%d]", i))
	}
	return p
}

// Define adds the params to a kernel context.
func (p DispatchCompileParams) Define(ctx *KernelCtx) {
	ctx.Define(DefInnerDim, int64(p.BlockDim[InnerBlock]))
	ctx.Define(DefReductionDim, int64(p.BlockDim[ReductionBlock]))
	ctx.Define(DefOuterDim, int64(p.BlockDim[OuterBlock]))
	ctx.Define(DefLocalSize0, int64(p.LocalSize[0]))
	ctx.Define(DefLocalSize1, int64(p.LocalSize[1]))
	ctx.Define(DefLocalSize2, int64(p.LocalSize[2]))
}

// NDRange holds the runtime launch dimensions. Global must be a multiple of Local in every
// dimension.
type NDRange struct {
	Global [3]int
	Local  [3]int
}

// Groups returns the number of work-groups per dimension.
func (nd NDRange) Groups() [3]int {
	var g [3]int
	for i := range g {
		g[i] = nd.Global[i] / nd.Local[i]
	}
	return g
}

// NumGroups is the total number of work-groups.
func (nd NDRange) NumGroups() int {
	g := nd.Groups()
	return g[0] * g[1] * g[2]
}

// Validate checks the range is non-empty and evenly divided.
func (nd NDRange) Validate() error {
	for i := range nd.Global {
		if nd.Local[i] <= 0 || nd.Global[i] <= 0 {
			return LaunchFailuref("empty range %v", nd)
		}
		if nd.Global[i]%nd.Local[i] != 0 {
			return LaunchFailuref("global size %d is not a multiple of local size %d in dimension %d",
				nd.Global[i], nd.Local[i], i)
		}
	}
	return nil
}

func (nd NDRange) String() string {
	return fmt.Sprintf("gws=%v lws=%v", nd.Global, nd.Local)
}

// RoundUp rounds n up to a multiple of m.
func RoundUp(n, m int) int {
	return (n + m - 1) / m * m
}

// DivUp is the ceiling of n/m.
func DivUp(n, m int) int {
	return (n + m - 1) / m
}
