//go:build gpu

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU compute backend.
//
// Kernels are generated as WGSL from the kernel configuration and compiled once per
// distinct configuration. Only float32 sources and destinations are supported; other
// types fail at Initialize with reduce.ErrBuildFailure.
//
// The package is built with the gpu tag and needs the wgpu-native library at run time.
//
// Example:
//
//	if webgpu.IsAvailable() {
//	    gpu, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer gpu.Close()
//	    prim, err := reduce.Initialize(ctx, desc, gpu)
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/atomicreduce/internal/compute/webgpu"
	"github.com/born-ml/atomicreduce/reduce"
)

// Backend is a WebGPU device.
type Backend = internalwebgpu.Backend

// Option configures New.
type Option = internalwebgpu.Option

// Compile-time check that Backend implements reduce.Backend.
var _ reduce.Backend = (*Backend)(nil)

// New opens the default high-performance adapter. Call Close when done.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
func New(opts ...Option) (*Backend, error) {
	return internalwebgpu.New(opts...)
}

// WithEUCount overrides the execution unit count, which WebGPU does not report.
func WithEUCount(n int) Option { return internalwebgpu.WithEUCount(n) }

// WithSubgroupSize overrides the assumed subgroup size.
func WithSubgroupSize(n int) Option { return internalwebgpu.WithSubgroupSize(n) }

// IsAvailable reports whether an adapter can be opened on this system.
func IsAvailable() bool {
	b, err := internalwebgpu.New()
	if err != nil {
		return false
	}
	b.Close()
	return true
}
