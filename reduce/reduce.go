// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import (
	"context"

	"github.com/born-ml/atomicreduce/internal/atomicreduce"
	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
)

// Alg selects the reduction algorithm.
type Alg = reduction.Alg

// Algorithms.
const (
	Sum             Alg = reduction.Sum
	Mean            Alg = reduction.Mean
	Max             Alg = reduction.Max
	Min             Alg = reduction.Min
	Mul             Alg = reduction.Mul
	NormLpMax       Alg = reduction.NormLpMax
	NormLpSum       Alg = reduction.NormLpSum
	NormLpPowerPMax Alg = reduction.NormLpPowerPMax
	NormLpPowerPSum Alg = reduction.NormLpPowerPSum
	PowerMean       Alg = reduction.PowerMean
)

// ParseAlg resolves an algorithm by name ("sum", "norm_lp_max", ...).
func ParseAlg(s string) (Alg, error) { return reduction.ParseAlg(s) }

// DataType is the element type of a source or destination tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float64  DataType = tensor.Float64
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Int8     DataType = tensor.Int8
	Uint8    DataType = tensor.Uint8
	Int32    DataType = tensor.Int32
)

// Shape is a row-major tensor shape.
type Shape = tensor.Shape

// Desc describes one reduction: algorithm, types, shapes and parameters.
type Desc = reduction.Desc

// DescOption sets an optional algorithm parameter.
type DescOption = reduction.Option

// NewDesc describes reducing the listed dimensions of a srcShape tensor.
func NewDesc(alg Alg, src, dst DataType, srcShape Shape, dims []int, opts ...DescOption) (*Desc, error) {
	return reduction.NewDesc(alg, src, dst, srcShape, dims, opts...)
}

// NewDescFromShapes describes a reduction by its source and destination shapes; every
// dimension that is 1 in dst and larger in src is reduced.
func NewDescFromShapes(alg Alg, src, dst DataType, srcShape, dstShape Shape, opts ...DescOption) (*Desc, error) {
	return reduction.NewDescFromShapes(alg, src, dst, srcShape, dstShape, opts...)
}

// WithPower sets the exponent of the norm and power-mean algorithms.
func WithPower(p float32) DescOption { return reduction.WithPower(p) }

// WithEps sets the epsilon of the norm algorithms.
func WithEps(eps float32) DescOption { return reduction.WithEps(eps) }

// Backend executes kernels on a device. See the backend/host and backend/webgpu packages.
type Backend = compute.Backend

// Buffer is device memory owned by a Backend.
type Buffer = compute.Buffer

// DeviceInfo describes the capabilities a plan is sized for.
type DeviceInfo = compute.DeviceInfo

// DeviceProfile returns a built-in device profile such as "intel-xe-hpg" or "tiny-test".
func DeviceProfile(name string) (DeviceInfo, error) { return compute.BuiltinProfile(name) }

// LoadDeviceProfiles reads device profiles from a YAML file.
func LoadDeviceProfiles(path string) (map[string]DeviceInfo, error) {
	return compute.LoadDeviceProfiles(path)
}

// Hints are optional planning preferences.
type Hints = atomicreduce.Hints

// PhasePlan is the ordered list of phases a primitive executes.
type PhasePlan = atomicreduce.PhasePlan

// PhaseConfig describes one phase of a PhasePlan.
type PhaseConfig = atomicreduce.PhaseConfig

// Error sentinels.
var (
	ErrUnimplemented     = compute.ErrUnimplemented
	ErrBuildFailure      = compute.ErrBuildFailure
	ErrLaunchFailure     = compute.ErrLaunchFailure
	ErrAllocationFailure = compute.ErrAllocationFailure
	ErrInvalidSubproblem = reduction.ErrInvalidSubproblem
)

// Option configures Initialize and Plan.
type Option func(*config)

type config struct {
	hints  []atomicreduce.HintOption
	device *compute.DeviceInfo
	cache  *compute.KernelCache
}

// WithDeterministic requests bit-reproducible execution. It is not supported; Plan and
// Initialize fail with ErrUnimplemented.
func WithDeterministic() Option {
	return func(c *config) { c.hints = append(c.hints, atomicreduce.WithDeterministic()) }
}

// WithThreadsPerEU lowers the number of work-items reducing one output tile.
func WithThreadsPerEU(n int) Option {
	return func(c *config) { c.hints = append(c.hints, atomicreduce.WithThreadsPerEU(n)) }
}

// WithMaxPhaseReduction lowers the number of rows one phase may fold.
func WithMaxPhaseReduction(n int) Option {
	return func(c *config) { c.hints = append(c.hints, atomicreduce.WithMaxPhaseReduction(n)) }
}

// WithDeviceInfo plans for info instead of the backend's reported capabilities.
func WithDeviceInfo(info DeviceInfo) Option {
	return func(c *config) { c.device = &info }
}

// WithKernelCache shares kernels through cache instead of the process-wide cache.
func WithKernelCache(cache *compute.KernelCache) Option {
	return func(c *config) { c.cache = cache }
}

// NewKernelCache returns an empty kernel cache for use with WithKernelCache.
func NewKernelCache() *compute.KernelCache { return compute.NewKernelCache() }

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c config) plan(desc *Desc, backendInfo func() DeviceInfo) (*atomicreduce.PrimitiveDesc, error) {
	info := c.device
	if info == nil {
		dev := backendInfo()
		info = &dev
	}
	hints := atomicreduce.NewHints(c.hints...)
	if err := hints.Validate(); err != nil {
		return nil, err
	}
	return atomicreduce.NewPrimitiveDesc(desc, *info, hints)
}

// Plan returns the phases desc would execute on device without touching any backend.
func Plan(desc *Desc, device DeviceInfo, opts ...Option) (*PhasePlan, error) {
	c := newConfig(opts)
	pd, err := c.plan(desc, func() DeviceInfo { return device })
	if err != nil {
		return nil, err
	}
	return pd.PhasePlan(), nil
}

// Primitive is a reduction ready to execute on one backend.
type Primitive struct {
	impl *atomicreduce.Primitive
}

// Initialize plans desc for backend, builds its kernels and allocates its accumulator.
func Initialize(ctx context.Context, desc *Desc, backend Backend, opts ...Option) (*Primitive, error) {
	c := newConfig(opts)
	pd, err := c.plan(desc, backend.DeviceInfo)
	if err != nil {
		return nil, err
	}
	var popts []atomicreduce.Option
	if c.cache != nil {
		popts = append(popts, atomicreduce.WithCache(c.cache))
	}
	impl, err := atomicreduce.NewPrimitive(ctx, pd, backend, popts...)
	if err != nil {
		return nil, err
	}
	return &Primitive{impl: impl}, nil
}

// Execute reduces src into dst. dst is undefined if an error is returned.
func (p *Primitive) Execute(ctx context.Context, src, dst Buffer) error {
	return p.impl.Execute(ctx, src, dst)
}

// Plan returns the phases the primitive executes.
func (p *Primitive) Plan() *PhasePlan { return p.impl.PrimitiveDesc().PhasePlan() }

// Desc returns the reduction the primitive computes.
func (p *Primitive) Desc() *Desc { return p.impl.PrimitiveDesc().Desc() }

// Close releases the accumulator. The primitive cannot execute afterwards.
func (p *Primitive) Close() { p.impl.Close() }
