package atomicreduce

import (
	"github.com/pkg/errors"
)

// Hints are optional caller preferences that shape planning.
type Hints struct {
	// Deterministic requires bit-reproducible accumulation order, which no plan guarantees:
	// every plan is rejected with compute.ErrUnimplemented, including single-phase ones.
	Deterministic bool

	// ThreadsPerEU lowers the number of work-items reducing one output tile. Zero keeps the
	// device value; values above it are ignored.
	ThreadsPerEU int

	// MaxPhaseReduction lowers the number of rows a single phase may fold. Zero keeps the
	// limit derived from the device.
	MaxPhaseReduction int
}

// HintOption sets one hint.
type HintOption func(*Hints)

// WithDeterministic requests deterministic execution.
func WithDeterministic() HintOption {
	return func(h *Hints) { h.Deterministic = true }
}

// WithThreadsPerEU sets Hints.ThreadsPerEU.
func WithThreadsPerEU(n int) HintOption {
	return func(h *Hints) { h.ThreadsPerEU = n }
}

// WithMaxPhaseReduction sets Hints.MaxPhaseReduction.
func WithMaxPhaseReduction(n int) HintOption {
	return func(h *Hints) { h.MaxPhaseReduction = n }
}

// NewHints applies opts to zero hints.
func NewHints(opts ...HintOption) Hints {
	var h Hints
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// Validate rejects negative values.
func (h Hints) Validate() error {
	if h.ThreadsPerEU < 0 || h.MaxPhaseReduction < 0 {
		return errors.Errorf("negative hint: threads per EU %d, max phase reduction %d",
			h.ThreadsPerEU, h.MaxPhaseReduction)
	}
	return nil
}
