package compute

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestBuiltinProfiles(t *testing.T) {
	profiles := BuiltinProfiles()
	for _, name := range []string{"intel-xe-lp", "intel-xe-hpg", "nvidia-ampere", "tiny-test"} {
		dev, ok := profiles[name]
		require.True(t, ok, name)
		assert.NoError(t, dev.Validate())
		assert.True(t, dev.SupportsAtomics(tensor.Float32), name)
	}
	assert.False(t, profiles["intel-xe-lp"].SupportsAtomics(tensor.Float64))
	assert.Equal(t, 64, profiles["tiny-test"].MaxPhaseReduction)

	_, err := BuiltinProfile("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiny-test")
}

func TestDeviceValidate(t *testing.T) {
	good := DeviceInfo{Name: "d", SubgroupSize: 8, ThreadsPerEU: 4, EUCount: 2}
	require.NoError(t, good.Validate())

	tests := []struct {
		name   string
		mutate func(*DeviceInfo)
	}{
		{"subgroup not power of two", func(d *DeviceInfo) { d.SubgroupSize = 12 }},
		{"zero subgroup", func(d *DeviceInfo) { d.SubgroupSize = 0 }},
		{"zero threads", func(d *DeviceInfo) { d.ThreadsPerEU = 0 }},
		{"zero EUs", func(d *DeviceInfo) { d.EUCount = 0 }},
		{"work-group too large", func(d *DeviceInfo) { d.MaxWorkGroupSize = 16 }},
		{"negative limit", func(d *DeviceInfo) { d.MaxGlobalAcc = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := good.Clone()
			tt.mutate(&dev)
			assert.Error(t, dev.Validate())
		})
	}
}

func TestLoadDeviceProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	content := `
devices:
  - name: small
    subgroup_size: 8
    threads_per_eu: 4
    eu_count: 16
    atomic_types: [f32, int32]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	profiles, err := LoadDeviceProfiles(path)
	require.NoError(t, err)
	dev := profiles["small"]
	assert.Equal(t, 8, dev.SubgroupSize)
	assert.Equal(t, DataTypes{tensor.Float32, tensor.Int32}, dev.AtomicTypes)

	out, err := yaml.Marshal(dev)
	require.NoError(t, err)
	assert.Contains(t, string(out), "- float32")
}

func TestParseDeviceProfilesErrors(t *testing.T) {
	_, err := ParseDeviceProfiles([]byte("devices:\n  - name: x\n    subgroup_size: 3\n    threads_per_eu: 1\n    eu_count: 1\n"))
	assert.Error(t, err)

	_, err = ParseDeviceProfiles([]byte("devices:\n  - name: x\n    subgroup_size: 4\n    threads_per_eu: 1\n    eu_count: 1\n    atomic_types: [complex64]\n"))
	assert.Error(t, err)

	dup := "devices:\n  - {name: a, subgroup_size: 4, threads_per_eu: 1, eu_count: 1}\n  - {name: a, subgroup_size: 4, threads_per_eu: 1, eu_count: 1}\n"
	_, err = ParseDeviceProfiles([]byte(dup))
	assert.Error(t, err)
}
