package atomicreduce

import (
	"fmt"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/eltwise"
	"github.com/born-ml/atomicreduce/internal/reduction"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/samber/lo"
)

// PhaseConfig is one kernel launch of a plan: the compiled variant plus its launch geometry
// and the rows of the reduction dimension it folds.
type PhaseConfig struct {
	Key            KeyParams
	Runtime        compute.NDRange
	ReductionStart int
	ReductionSize  int
}

func (c PhaseConfig) String() string {
	return fmt.Sprintf("rows [%d, %d) %s %s", c.ReductionStart, c.ReductionStart+c.ReductionSize, c.Key, c.Runtime)
}

// PhasePlan is the ordered list of phases for one reduction. Phase 0 reads only the source;
// every later phase folds its rows into the accumulator the earlier phases built. The last
// phase writes the result.
type PhasePlan struct {
	Desc    *reduction.Desc
	Phases  []PhaseConfig
	AccType tensor.DataType

	// Threshold is the largest number of rows one phase folds.
	Threshold int

	NeedsFinalization bool
	Finalization      *eltwise.Desc // nil unless NeedsFinalization

	// FinalToAccumulator means the last phase writes the accumulator and finalization
	// converts it into the destination. Set when the destination type cannot hold the
	// unfinalized value.
	FinalToAccumulator bool

	Scratchpad compute.ScratchpadRequest
}

// First returns the first phase.
func (p *PhasePlan) First() PhaseConfig { return p.Phases[0] }

// Final returns the last phase.
func (p *PhasePlan) Final() PhaseConfig { return p.Phases[len(p.Phases)-1] }

// UsesAtomics reports whether partial results meet in shared accumulator cells.
func (p *PhasePlan) UsesAtomics() bool {
	return len(p.Phases) > 1 || lo.SomeBy(p.Phases, func(c PhaseConfig) bool { return c.Key.GlobalAcc > 1 })
}

// ReductionFactors returns the rows each phase folds.
func (p *PhasePlan) ReductionFactors() []int {
	return lo.Map(p.Phases, func(c PhaseConfig, _ int) int { return c.ReductionSize })
}

// Equal reports whether two plans are structurally identical.
func (p *PhasePlan) Equal(o *PhasePlan) bool {
	if !p.Desc.Equal(o.Desc) || p.AccType != o.AccType || p.Threshold != o.Threshold ||
		p.NeedsFinalization != o.NeedsFinalization || p.FinalToAccumulator != o.FinalToAccumulator ||
		p.Scratchpad != o.Scratchpad || len(p.Phases) != len(o.Phases) {
		return false
	}
	if (p.Finalization == nil) != (o.Finalization == nil) ||
		(p.Finalization != nil && *p.Finalization != *o.Finalization) {
		return false
	}
	for i := range p.Phases {
		a, b := p.Phases[i], o.Phases[i]
		if !a.Key.Equal(b.Key) || a.Runtime != b.Runtime ||
			a.ReductionStart != b.ReductionStart || a.ReductionSize != b.ReductionSize {
			return false
		}
	}
	return true
}
