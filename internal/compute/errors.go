package compute

import (
	"github.com/pkg/errors"
)

// Error taxonomy. Every failure returned by planning, building, launching or allocating wraps
// exactly one of these, so callers classify with errors.Is.
var (
	// ErrUnimplemented is returned while planning when a shape, algorithm or hint combination
	// cannot be expressed. It is never returned by an execution.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrBuildFailure means the device compiler rejected a kernel configuration.
	ErrBuildFailure = errors.New("kernel build failure")

	// ErrLaunchFailure means the device reported an error while executing a kernel.
	ErrLaunchFailure = errors.New("kernel launch failure")

	// ErrAllocationFailure means a scratchpad or buffer request could not be satisfied.
	ErrAllocationFailure = errors.New("allocation failure")
)

// Unimplementedf wraps ErrUnimplemented with a formatted message.
func Unimplementedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnimplemented, format, args...)
}

// BuildFailuref wraps ErrBuildFailure with a formatted message.
func BuildFailuref(format string, args ...any) error {
	return errors.Wrapf(ErrBuildFailure, format, args...)
}

// LaunchFailuref wraps ErrLaunchFailure with a formatted message.
func LaunchFailuref(format string, args ...any) error {
	return errors.Wrapf(ErrLaunchFailure, format, args...)
}

// AllocationFailuref wraps ErrAllocationFailure with a formatted message.
func AllocationFailuref(format string, args ...any) error {
	return errors.Wrapf(ErrAllocationFailure, format, args...)
}

// Classify returns the taxonomy sentinel err wraps, or nil.
func Classify(err error) error {
	for _, sentinel := range []error{ErrUnimplemented, ErrBuildFailure, ErrLaunchFailure, ErrAllocationFailure} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}
