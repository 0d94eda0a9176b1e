package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/openperf/loadsim"
	"github.com/openperf/loadsim/simulator"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"gopkg.in/yaml.v3"
)

type options struct {
	TraceDir              string  `yaml:"trace-dir"`
	FallbackTTFBMs        float64 `yaml:"fallback-ttfb-ms"`
	RTTMs                 float64 `yaml:"rtt-ms"`
	ThroughputKbps        float64 `yaml:"throughput-kbps"`
	CPUSlowdownMultiplier float64 `yaml:"cpu-slowdown"`

	configFile string
	pprof      bool
}

func defaultOptions() *options {
	return &options{
		TraceDir:              "../sample_trace/",
		FallbackTTFBMs:        30,
		RTTMs:                 simulator.DefaultRTTMs,
		ThroughputKbps:        simulator.DefaultThroughputKbps,
		CPUSlowdownMultiplier: 1,
	}
}

func newRootCmd() *cobra.Command {
	o := defaultOptions()

	cmd := &cobra.Command{
		Use:          "loadsim",
		Short:        "Estimates page load time from a recorded request and task trace.",
		SilenceUsage: true,
		RunE:         o.run,
	}

	cmd.Flags().StringVar(&o.TraceDir, "trace-dir", o.TraceDir,
		"The directory where the trace files are located.")
	cmd.Flags().Float64Var(&o.FallbackTTFBMs, "fallback-ttfb", o.FallbackTTFBMs,
		"The server response time in ms for requests without a recorded TTFB.")
	cmd.Flags().Float64Var(&o.RTTMs, "rtt", o.RTTMs,
		"The round-trip time of the simulated link in ms.")
	cmd.Flags().Float64Var(&o.ThroughputKbps, "throughput", o.ThroughputKbps,
		"The throughput of the simulated link in kbps.")
	cmd.Flags().Float64Var(&o.CPUSlowdownMultiplier, "cpu-slowdown", o.CPUSlowdownMultiplier,
		"The multiplier applied to recorded CPU task durations.")
	cmd.Flags().StringVar(&o.configFile, "config", "",
		"A YAML file providing defaults for the simulation flags.")
	cmd.Flags().BoolVar(&o.pprof, "pprof", false,
		"Serve pprof on localhost:6060 while the simulation runs.")

	return cmd
}

func (o *options) run(cmd *cobra.Command, _ []string) error {
	if err := o.applyConfigFile(cmd); err != nil {
		return err
	}

	if o.pprof {
		go func() {
			fmt.Println(http.ListenAndServe("localhost:6060", nil))
		}()
	}

	trace, err := loadTrace(o.TraceDir)
	if err != nil {
		return err
	}

	root, err := trace.Root()
	if err != nil {
		return err
	}

	params := simulator.Params{
		FallbackTTFBMs:        o.FallbackTTFBMs,
		RTTMs:                 o.RTTMs,
		ThroughputKbps:        o.ThroughputKbps,
		CPUSlowdownMultiplier: o.CPUSlowdownMultiplier,
	}

	totalTimeMs, err := simulator.Estimate(root, params)
	if err != nil {
		return err
	}

	fmt.Printf("Estimated page load time ms, %.10f\n", totalTimeMs)

	return nil
}

// applyConfigFile overlays values from the config file under any flag the
// user did not set explicitly.
func (o *options) applyConfigFile(cmd *cobra.Command) error {
	if o.configFile == "" {
		return nil
	}

	data, err := os.ReadFile(o.configFile)
	if err != nil {
		return err
	}

	fromFile := defaultOptions()
	if err := yaml.Unmarshal(data, fromFile); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", o.configFile, err)
	}

	if !cmd.Flags().Changed("trace-dir") {
		o.TraceDir = fromFile.TraceDir
	}
	if !cmd.Flags().Changed("fallback-ttfb") {
		o.FallbackTTFBMs = fromFile.FallbackTTFBMs
	}
	if !cmd.Flags().Changed("rtt") {
		o.RTTMs = fromFile.RTTMs
	}
	if !cmd.Flags().Changed("throughput") {
		o.ThroughputKbps = fromFile.ThroughputKbps
	}
	if !cmd.Flags().Changed("cpu-slowdown") {
		o.CPUSlowdownMultiplier = fromFile.CPUSlowdownMultiplier
	}

	return nil
}

func loadTrace(dir string) (loadsim.Trace, error) {
	traceLoader := loadsim.TraceLoader{
		Dir: dir,
	}

	return traceLoader.Load()
}

func main() {
	start := time.Now()
	atexit.Register(func() {
		fmt.Printf("Program Execution time: %s\n", time.Since(start))
	})

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
