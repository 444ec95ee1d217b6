// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package reduce computes reductions over tensors that may be too large to fold in a
// single kernel launch.
//
// # Overview
//
// A reduction collapses one or more dimensions of a dense row-major tensor with one of
// the supported algorithms (sum, mean, max, min, product, Lp norms and the power mean).
// When the number of reduced rows exceeds what one launch can fold without losing
// precision in the accumulation type, the work is split into phases. Each phase folds a
// consecutive slice of rows into a global accumulator; the final phase produces the
// output and an element-wise pass applies the algorithm's finalization.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/atomicreduce/backend/host"
//	    "github.com/born-ml/atomicreduce/reduce"
//	)
//
//	func main() {
//	    backend := host.New()
//	    defer backend.Close()
//
//	    desc, err := reduce.NewDesc(reduce.Mean, reduce.Float32, reduce.Float32,
//	        reduce.Shape{2, 200000, 8}, []int{1})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    prim, err := reduce.Initialize(ctx, desc, backend)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer prim.Close()
//
//	    err = prim.Execute(ctx, src, dst)
//	}
//
// # Errors
//
// Every failure wraps one of ErrUnimplemented, ErrBuildFailure, ErrLaunchFailure or
// ErrAllocationFailure, or ErrInvalidSubproblem for malformed descriptors. Use errors.Is
// to classify. Unsupported configurations are reported by Initialize, never by Execute.
//
// # Thread Safety
//
// A Primitive owns its accumulator, so Execute must not be called concurrently on the
// same Primitive. Distinct primitives may run concurrently; kernels are shared through a
// cache that is safe for concurrent use.
package reduce
