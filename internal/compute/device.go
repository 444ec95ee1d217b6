package compute

import (
	_ "embed"
	"os"
	"slices"

	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// DeviceInfo describes the capabilities the planner sizes phases against.
type DeviceInfo struct {
	Name string `yaml:"name"`

	// SubgroupSize is the number of work-items executing in lockstep. Must be a power of two.
	SubgroupSize int `yaml:"subgroup_size"`

	// ThreadsPerEU is the number of hardware threads (subgroups) one execution unit keeps
	// resident.
	ThreadsPerEU int `yaml:"threads_per_eu"`

	// EUCount is the number of execution units.
	EUCount int `yaml:"eu_count"`

	// MaxWorkGroupSize bounds SubgroupSize*ThreadsPerEU. Zero means unbounded.
	MaxWorkGroupSize int `yaml:"max_work_group_size"`

	// MaxLocalMemory is the work-group local memory in bytes. Zero means unbounded.
	MaxLocalMemory int64 `yaml:"max_local_memory"`

	// MaxGlobalAcc caps how many work-groups may share one global accumulator in a phase.
	MaxGlobalAcc int `yaml:"max_global_acc"`

	// MaxPhaseReduction overrides the per-phase reduction limit derived from occupancy.
	MaxPhaseReduction int `yaml:"max_phase_reduction"`

	// AtomicTypes lists the data types with device-wide atomic read-modify-write support.
	AtomicTypes DataTypes `yaml:"atomic_types"`
}

// DataTypes is a list of data types written as names in YAML.
type DataTypes []tensor.DataType

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataTypes) UnmarshalYAML(node *yaml.Node) error {
	var names []string
	if err := node.Decode(&names); err != nil {
		return err
	}
	types := make(DataTypes, 0, len(names))
	for _, name := range names {
		dt, err := tensor.ParseDataType(name)
		if err != nil {
			return errors.Wrapf(err, "line %d", node.Line)
		}
		types = append(types, dt)
	}
	*d = types
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d DataTypes) MarshalYAML() (any, error) {
	return lo.Map(d, func(dt tensor.DataType, _ int) string { return dt.String() }), nil
}

// SupportsAtomics reports whether dt can be accumulated with device-wide atomics.
func (d DeviceInfo) SupportsAtomics(dt tensor.DataType) bool {
	return slices.Contains(d.AtomicTypes, dt)
}

// Validate checks that the capabilities are usable for planning.
func (d DeviceInfo) Validate() error {
	if d.SubgroupSize <= 0 || d.SubgroupSize&(d.SubgroupSize-1) != 0 {
		return errors.Errorf("device %q: subgroup size %d must be a positive power of two", d.Name, d.SubgroupSize)
	}
	if d.ThreadsPerEU <= 0 {
		return errors.Errorf("device %q: threads per EU must be positive, got %d", d.Name, d.ThreadsPerEU)
	}
	if d.EUCount <= 0 {
		return errors.Errorf("device %q: EU count must be positive, got %d", d.Name, d.EUCount)
	}
	if d.MaxWorkGroupSize > 0 && d.SubgroupSize*d.ThreadsPerEU > d.MaxWorkGroupSize {
		return errors.Errorf("device %q: work-group of %d x %d exceeds maximum %d",
			d.Name, d.SubgroupSize, d.ThreadsPerEU, d.MaxWorkGroupSize)
	}
	if d.MaxGlobalAcc < 0 || d.MaxPhaseReduction < 0 || d.MaxLocalMemory < 0 {
		return errors.Errorf("device %q: limits must not be negative", d.Name)
	}
	return nil
}

// Clone returns a deep copy.
func (d DeviceInfo) Clone() DeviceInfo {
	d.AtomicTypes = slices.Clone(d.AtomicTypes)
	return d
}

// profileFile is the on-disk layout of a device profile set.
type profileFile struct {
	Devices []DeviceInfo `yaml:"devices"`
}

//go:embed profiles.yaml
var builtinProfiles []byte

// ParseDeviceProfiles decodes and validates a YAML profile set.
func ParseDeviceProfiles(data []byte) (map[string]DeviceInfo, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing device profiles")
	}
	profiles := make(map[string]DeviceInfo, len(file.Devices))
	for _, dev := range file.Devices {
		if dev.Name == "" {
			return nil, errors.New("device profile without a name")
		}
		if _, dup := profiles[dev.Name]; dup {
			return nil, errors.Errorf("duplicate device profile %q", dev.Name)
		}
		if err := dev.Validate(); err != nil {
			return nil, err
		}
		profiles[dev.Name] = dev
	}
	return profiles, nil
}

// LoadDeviceProfiles reads a YAML profile set from path.
func LoadDeviceProfiles(path string) (map[string]DeviceInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading device profiles %s", path)
	}
	return ParseDeviceProfiles(data)
}

// BuiltinProfiles returns the embedded device profiles.
func BuiltinProfiles() map[string]DeviceInfo {
	profiles, err := ParseDeviceProfiles(builtinProfiles)
	if err != nil {
		panic(err) // embedded file is part of the build
	}
	return profiles
}

// BuiltinProfile returns the embedded profile called name.
func BuiltinProfile(name string) (DeviceInfo, error) {
	profiles := BuiltinProfiles()
	dev, ok := profiles[name]
	if !ok {
		known := lo.Keys(profiles)
		slices.Sort(known)
		return DeviceInfo{}, errors.Errorf("unknown device profile %q (known: %v)", name, known)
	}
	return dev, nil
}
