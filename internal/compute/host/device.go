package host

import (
	"runtime"

	"github.com/born-ml/atomicreduce/internal/compute"
	"github.com/born-ml/atomicreduce/internal/tensor"
	"golang.org/x/sys/cpu"
)

// DetectDeviceInfo describes the host as a compute device: one execution unit per CPU and a
// subgroup as wide as the widest float32 SIMD register.
func DetectDeviceInfo() compute.DeviceInfo {
	return compute.DeviceInfo{
		Name:             "host",
		SubgroupSize:     simdLanes(),
		ThreadsPerEU:     8,
		EUCount:          runtime.NumCPU(),
		MaxWorkGroupSize: 1024,
		MaxLocalMemory:   64 << 10,
		MaxGlobalAcc:     16,
		AtomicTypes:      compute.DataTypes{tensor.Float32, tensor.Float64, tensor.Int32},
	}
}

func simdLanes() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2:
		return 8
	}
	return 4 // SSE2 and NEON registers hold four float32
}
