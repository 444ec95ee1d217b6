// reduceplan prints the phase plan of a reduction for a device profile and, with -run,
// executes it on the host backend and checks the result against a sequential fold.
//
// Example:
//
//	reduceplan -shape 2x200000x8 -dims 1 -alg mean -device intel-xe-lp -run
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/born-ml/atomicreduce/internal/tensor"
	"github.com/born-ml/atomicreduce/reduce"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagShape = flag.String("shape", "2x200000x8", "Source tensor shape, dimensions separated by 'x'.")
	flagDims  = flag.String("dims", "1", "Comma-separated list of dimensions to reduce.")
	flagAlg   = flag.String("alg", "sum", "Reduction algorithm: sum, mean, max, min, mul, norm_lp_max, norm_lp_sum, "+
		"norm_lp_power_p_max, norm_lp_power_p_sum or power_mean.")
	flagSrc      = flag.String("src", "f32", "Source data type.")
	flagDst      = flag.String("dst", "f32", "Destination data type.")
	flagPower    = flag.Float64("p", 2, "Exponent of the norm and power-mean algorithms.")
	flagEps      = flag.Float64("eps", 0, "Epsilon of the norm algorithms.")
	flagDevice   = flag.String("device", "intel-xe-hpg", "Device profile to plan for.")
	flagProfiles = flag.String("profiles", "", "YAML file with device profiles. Built-in profiles are used if empty.")
	flagDeterm   = flag.Bool("deterministic", false, "Request deterministic execution (always rejected as unimplemented).")
	flagMaxPhase = flag.Int("max-phase", 0, "Upper bound on the rows one phase folds. 0 uses the device limit.")
	flagThreads  = flag.Int("threads", 0, "Upper bound on the threads per EU. 0 uses the device value.")
	flagRun      = flag.Bool("run", false, "Execute the plan on the host backend with random integer data and verify it.")
	flagSeed     = flag.Uint64("seed", 1, "Seed of the random source data used by -run.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'reduceplan -help'.", flag.Args())
		os.Exit(1)
	}

	desc, err := parseDesc()
	if err != nil {
		klog.Exitf("Invalid reduction: %+v", err)
	}
	device, err := loadDevice(*flagDevice, *flagProfiles)
	if err != nil {
		klog.Exitf("Device: %+v", err)
	}
	opts := planOptions()
	plan, err := reduce.Plan(desc, device, opts...)
	if err != nil {
		klog.Exitf("Planning %s on %s: %v", desc, device.Name, err)
	}
	report(os.Stdout, desc, device, plan)

	if *flagRun {
		if err := run(desc, device, opts, *flagSeed); err != nil {
			klog.Exitf("Run failed: %+v", err)
		}
	}
}

func parseDesc() (*reduce.Desc, error) {
	shape, err := tensor.ParseShape(*flagShape)
	if err != nil {
		return nil, err
	}
	dims, err := parseDims(*flagDims)
	if err != nil {
		return nil, err
	}
	alg, err := reduce.ParseAlg(*flagAlg)
	if err != nil {
		return nil, err
	}
	src, err := tensor.ParseDataType(*flagSrc)
	if err != nil {
		return nil, err
	}
	dst, err := tensor.ParseDataType(*flagDst)
	if err != nil {
		return nil, err
	}
	return reduce.NewDesc(alg, src, dst, shape, dims,
		reduce.WithPower(float32(*flagPower)), reduce.WithEps(float32(*flagEps)))
}

func parseDims(text string) ([]int, error) {
	var dims []int
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "dimension %q", part)
		}
		dims = append(dims, dim)
	}
	if len(dims) == 0 {
		return nil, errors.New("no dimension to reduce")
	}
	return dims, nil
}

func loadDevice(name, profilesPath string) (reduce.DeviceInfo, error) {
	if profilesPath == "" {
		return reduce.DeviceProfile(name)
	}
	profiles, err := reduce.LoadDeviceProfiles(profilesPath)
	if err != nil {
		return reduce.DeviceInfo{}, err
	}
	device, ok := profiles[name]
	if !ok {
		return reduce.DeviceInfo{}, errors.Errorf("no profile %q in %s", name, profilesPath)
	}
	return device, nil
}

func planOptions() []reduce.Option {
	var opts []reduce.Option
	if *flagDeterm {
		opts = append(opts, reduce.WithDeterministic())
	}
	if *flagMaxPhase > 0 {
		opts = append(opts, reduce.WithMaxPhaseReduction(*flagMaxPhase))
	}
	if *flagThreads > 0 {
		opts = append(opts, reduce.WithThreadsPerEU(*flagThreads))
	}
	return opts
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func dims3(d [3]int) string { return fmt.Sprintf("%d x %d x %d", d[0], d[1], d[2]) }
