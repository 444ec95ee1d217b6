// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package host provides the pure Go compute backend.
//
// The host backend runs every work-group of a launch on a goroutine pool and implements
// device atomics with compare-and-swap on the accumulator memory. It needs no GPU and no
// cgo, which makes it the reference device for tests and for the reduceplan tool.
//
// Example:
//
//	backend := host.New()
//	defer backend.Close()
//
//	src, _ := backend.Upload(data)
//	dst, _ := backend.NewBuffer(outBytes)
//	prim, _ := reduce.Initialize(ctx, desc, backend)
//	_ = prim.Execute(ctx, src, dst)
//	out, _ := backend.Download(dst)
package host

import (
	internalhost "github.com/born-ml/atomicreduce/internal/compute/host"
	"github.com/born-ml/atomicreduce/internal/parallel"
	"github.com/born-ml/atomicreduce/reduce"
)

// Backend is the host compute device.
type Backend = internalhost.Backend

// Buffer is host memory allocated by a Backend.
type Buffer = internalhost.Buffer

// Option configures New.
type Option = internalhost.Option

// Compile-time check that Backend implements reduce.Backend.
var _ reduce.Backend = (*Backend)(nil)

// New creates a host backend sized from the machine it runs on.
func New(opts ...Option) *Backend {
	return internalhost.New(opts...)
}

// WithDeviceInfo makes the backend report info instead of the detected capabilities.
func WithDeviceInfo(info reduce.DeviceInfo) Option {
	return internalhost.WithDeviceInfo(info)
}

// WithWorkers bounds the number of goroutines a launch uses. Zero means one per CPU.
func WithWorkers(n int) Option {
	cfg := parallel.DefaultConfig()
	if n > 0 {
		cfg.NumWorkers = n
		cfg.Enabled = n > 1
	}
	return internalhost.WithParallel(cfg)
}

// WithMemoryLimit caps the bytes the backend may have allocated at once.
func WithMemoryLimit(bytes uint64) Option {
	return internalhost.WithMemoryLimit(bytes)
}
