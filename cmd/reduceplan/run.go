package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/born-ml/atomicreduce/backend/host"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/born-ml/atomicreduce/reduce"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// run executes desc on a host backend that reports device, then compares every output
// with a sequential float64 fold of the same data.
func run(desc *reduce.Desc, device reduce.DeviceInfo, opts []reduce.Option, seed uint64) error {
	ctx := context.Background()
	backend := host.New(host.WithDeviceInfo(device))
	defer backend.Close()

	prim, err := reduce.Initialize(ctx, desc, backend, opts...)
	if err != nil {
		return err
	}
	defer prim.Close()

	sub := desc.Subproblem()
	values := randomInts(sub.NumInputs(), desc.SrcType, seed)
	src := must.M1(backend.Upload(tensor.EncodeSlice(desc.SrcType, values)))
	defer backend.FreeBuffer(src)
	dst := must.M1(backend.NewBuffer(uint64(sub.NumOutputs() * desc.DstType.Size())))
	defer backend.FreeBuffer(dst)

	start := time.Now()
	if err := prim.Execute(ctx, src, dst); err != nil {
		return err
	}
	elapsed := time.Since(start)
	got := tensor.DecodeSlice(desc.DstType, must.M1(backend.Download(dst)), sub.NumOutputs())
	want := sequentialFold(desc, prim.Plan(), values)

	stats := backend.Stats()
	fmt.Println(titleStyle.Render("Host run"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	table.Row("inputs", humanize.Comma(int64(sub.NumInputs())))
	table.Row("elapsed", elapsed.String())
	table.Row("launches", humanize.Comma(stats.Launches))
	table.Row("accumulator fills", humanize.Comma(stats.Fills))
	table.Row("barriers", humanize.Comma(stats.Barriers))
	fmt.Println(table.Render())

	mismatches := 0
	for i := range want {
		if !withinTolerance(desc.DstType, got[i], want[i]) {
			if mismatches < 10 {
				klog.Errorf("output %d: got %v, want %v", i, got[i], want[i])
			}
			mismatches++
		}
	}
	if mismatches > 0 {
		fmt.Fprintln(os.Stdout, failStyle.Render(fmt.Sprintf("FAIL: %d of %d outputs differ", mismatches, len(want))))
		return errors.Errorf("%d mismatched outputs", mismatches)
	}
	fmt.Fprintln(os.Stdout, passStyle.Render(fmt.Sprintf("PASS: %s outputs match", humanize.Comma(int64(len(want))))))
	return nil
}

// randomInts draws integers small enough that any summation order is exact in dt.
func randomInts(n int, dt tensor.DataType, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	lo, span := -4, 9
	if dt == tensor.Uint8 {
		lo = 0
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(lo + rng.IntN(span))
	}
	return out
}

// sequentialFold computes the reduction row by row in float64 and applies the plan's
// finalization after rounding to the type the last phase writes.
func sequentialFold(desc *reduce.Desc, plan *reduce.PhasePlan, src []float64) []float64 {
	sub := desc.Subproblem()
	op := desc.Alg.Combine()
	stored := desc.DstType
	if plan.FinalToAccumulator {
		stored = plan.AccType
	}
	out := make([]float64, sub.NumOutputs())
	for o := range sub.OuterBlock {
		for i := range sub.InnerBlock {
			acc := op.Identity()
			for r := range sub.ReductionBlock {
				x := src[(o*sub.ReductionBlock+r)*sub.InnerBlock+i]
				acc = op.Apply(acc, desc.Alg.Prepare(x, desc.P))
			}
			acc = roundTo(stored, acc)
			if plan.Finalization != nil {
				acc = plan.Finalization.Apply(acc)
			}
			out[o*sub.InnerBlock+i] = roundTo(desc.DstType, acc)
		}
	}
	return out
}

func roundTo(dt tensor.DataType, v float64) float64 {
	buf := make([]byte, dt.Size())
	tensor.Encode(dt, buf, 0, v)
	return tensor.Decode(dt, buf, 0)
}

// withinTolerance allows a few units in the last place of dt for the rounding of partial sums.
func withinTolerance(dt tensor.DataType, got, want float64) bool {
	if got == want || (math.IsNaN(got) && math.IsNaN(want)) {
		return true
	}
	if dt.IsInteger() {
		return math.Abs(got-want) <= 1
	}
	ulp := math.Ldexp(math.Max(math.Abs(want), 1), -(dt.MantissaBits() - 1))
	return math.Abs(got-want) <= 4*ulp
}
