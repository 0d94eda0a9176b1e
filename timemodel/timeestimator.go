// Package timemodel provides a performance model for the execution time of
// main-thread CPU tasks.
package timemodel

// A TimeEstimatorInput represents the input of a time estimator.
type TimeEstimatorInput struct {
	ThreadID         int
	RecordedTimeInMs float64
}

// A TimeEstimatorOutput represents the output of a time estimator.
type TimeEstimatorOutput struct {
	// The estimated execution time in milliseconds.
	TimeInMs float64
}

// TimeEstimator estimates the execution time of a CPU task.
type TimeEstimator interface {
	// Estimate estimates the execution time of a CPU task.
	Estimate(input TimeEstimatorInput) (TimeEstimatorOutput, error)
}

// A RecordedTimeEstimator estimates the execution time of a task based on the
// recorded time.
type RecordedTimeEstimator struct{}

// Estimate estimates the execution time of a task based on the recorded time.
func (e *RecordedTimeEstimator) Estimate(
	input TimeEstimatorInput,
) (TimeEstimatorOutput, error) {
	return TimeEstimatorOutput{
		TimeInMs: input.RecordedTimeInMs,
	}, nil
}

// A ScaledTimeEstimator scales the recorded time by a CPU slowdown
// multiplier, modeling a device slower than the one that recorded the trace.
type ScaledTimeEstimator struct {
	Multiplier float64
}

// Estimate returns the recorded time scaled by the multiplier. A zero
// multiplier is treated as 1.
func (e *ScaledTimeEstimator) Estimate(
	input TimeEstimatorInput,
) (TimeEstimatorOutput, error) {
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	return TimeEstimatorOutput{
		TimeInMs: input.RecordedTimeInMs * multiplier,
	}, nil
}
