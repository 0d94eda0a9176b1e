package simulator

import (
	"math"

	"github.com/openperf/loadsim"
)

// Default simulation parameters, roughly a mid-range mobile connection.
const (
	DefaultRTTMs          = 150
	DefaultThroughputKbps = 1638.4
)

// maxConcurrentRequests caps how many requests are in flight at once no
// matter how much bandwidth is available.
const maxConcurrentRequests = 10

// Params configures one estimation run. The parameters are immutable for the
// duration of the run.
type Params struct {
	// FallbackTTFBMs is the server response latency in milliseconds applied
	// to requests that carry no recorded timing. It is required; a missing
	// fallback meaningfully skews results, so there is no silent default.
	FallbackTTFBMs float64

	// RTTMs is the simulated round-trip time in milliseconds. Zero selects
	// DefaultRTTMs.
	RTTMs float64

	// ThroughputKbps is the total available downlink throughput in kilobits
	// per second, shared by all in-flight requests. Zero selects
	// DefaultThroughputKbps; +Inf means unconstrained bandwidth.
	ThroughputKbps float64

	// CPUSlowdownMultiplier scales recorded CPU task durations. Zero selects
	// a multiplier of 1.
	CPUSlowdownMultiplier float64
}

func (p Params) withDefaults() Params {
	if p.RTTMs == 0 {
		p.RTTMs = DefaultRTTMs
	}

	if p.ThroughputKbps == 0 {
		p.ThroughputKbps = DefaultThroughputKbps
	}

	if p.CPUSlowdownMultiplier == 0 {
		p.CPUSlowdownMultiplier = 1
	}

	return p
}

func (p Params) validate() error {
	if p.FallbackTTFBMs <= 0 || math.IsNaN(p.FallbackTTFBMs) {
		return &loadsim.ParamError{Reason: "fallback TTFB must be a positive number of milliseconds"}
	}

	if p.RTTMs <= 0 || math.IsInf(p.RTTMs, 1) || math.IsNaN(p.RTTMs) {
		return &loadsim.ParamError{Reason: "RTT must be a positive, finite number of milliseconds"}
	}

	if p.ThroughputKbps <= 0 || math.IsNaN(p.ThroughputKbps) {
		return &loadsim.ParamError{Reason: "throughput must be positive"}
	}

	if p.CPUSlowdownMultiplier <= 0 || math.IsNaN(p.CPUSlowdownMultiplier) {
		return &loadsim.ParamError{Reason: "CPU slowdown multiplier must be positive"}
	}

	return nil
}

func (p Params) throughputBps() float64 {
	return p.ThroughputKbps * 1000
}
