package atomicreduce

import (
	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/eltwise"
	"github.com/born-ml/atomicreduce/internal/reduction"
)

// PhasePlanner is implemented by primitive descriptors that execute as a phase plan.
// Callers holding a generic descriptor narrow to it with a type assertion.
type PhasePlanner interface {
	PhasePlan() *PhasePlan
}

// PrimitiveDesc is a planned reduction, ready to be instantiated on a backend.
type PrimitiveDesc struct {
	desc   *reduction.Desc
	device compute.DeviceInfo
	hints  Hints
	plan   *PhasePlan
}

var _ PhasePlanner = (*PrimitiveDesc)(nil)

// NewPrimitiveDesc plans desc for device. Planning failures, including
// compute.ErrUnimplemented, are returned here and never from execution.
func NewPrimitiveDesc(desc *reduction.Desc, device compute.DeviceInfo, hints Hints) (*PrimitiveDesc, error) {
	plan, err := Plan(desc, device, hints)
	if err != nil {
		return nil, err
	}
	return &PrimitiveDesc{desc: desc, device: device.Clone(), hints: hints, plan: plan}, nil
}

// Desc returns the reduction being computed.
func (pd *PrimitiveDesc) Desc() *reduction.Desc { return pd.desc }

// Device returns the capabilities the plan was sized for.
func (pd *PrimitiveDesc) Device() compute.DeviceInfo { return pd.device.Clone() }

// Hints returns the hints the plan honored.
func (pd *PrimitiveDesc) Hints() Hints { return pd.hints }

// PhasePlan implements PhasePlanner.
func (pd *PrimitiveDesc) PhasePlan() *PhasePlan { return pd.plan }

// Scratchpad is the memory an instance requests from its allocator.
func (pd *PrimitiveDesc) Scratchpad() compute.ScratchpadRequest { return pd.plan.Scratchpad }

// Finalization returns the finalization pass, if the algorithm needs one.
func (pd *PrimitiveDesc) Finalization() (eltwise.Desc, bool) {
	if pd.plan.Finalization == nil {
		return eltwise.Desc{}, false
	}
	return *pd.plan.Finalization, true
}
