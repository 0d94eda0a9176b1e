package simulator

import (
	"github.com/openperf/loadsim"
	"github.com/openperf/loadsim/timemodel"
	"gitlab.com/akita/akita/v3/sim"
)

// Estimate replays the graph reachable from root on a fresh event engine and
// returns the estimated page-load time in milliseconds. Repeated calls with
// the same graph and params produce identical results.
func Estimate(root *loadsim.Node, params Params) (float64, error) {
	return EstimateWith(root, params, nil)
}

// EstimateWith is Estimate with an explicit CPU time estimator. A nil
// estimator falls back to scaling recorded task durations by the params' CPU
// slowdown multiplier.
func EstimateWith(
	root *loadsim.Node,
	params Params,
	timeEstimator timemodel.TimeEstimator,
) (float64, error) {
	engine := sim.NewSerialEngine()
	s := NewSimulator(engine, engine, params, timeEstimator)

	if err := s.SetGraph(root); err != nil {
		return 0, err
	}

	s.KickStart()

	if err := engine.Run(); err != nil {
		return 0, err
	}

	return s.TotalTimeMs(), nil
}
