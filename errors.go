package loadsim

import (
	"errors"
	"fmt"
)

// Sentinel errors that classify every failure the simulation core can
// produce. Both kinds are deterministic data/programming errors; retrying a
// failed estimation with the same input fails identically.
var (
	// ErrGraph marks structural defects in the dependency graph, such as
	// cycles or asymmetric edges.
	ErrGraph = errors.New("malformed dependency graph")

	// ErrParam marks invalid simulation inputs, such as a missing fallback
	// TTFB or negative sizes.
	ErrParam = errors.New("invalid simulation parameter")
)

// A GraphError describes why a dependency graph cannot be simulated.
type GraphError struct {
	Reason string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGraph, e.Reason)
}

// Unwrap makes the error match ErrGraph with errors.Is.
func (e *GraphError) Unwrap() error {
	return ErrGraph
}

// A ParamError describes an invalid simulation parameter or node attribute.
type ParamError struct {
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s", ErrParam, e.Reason)
}

// Unwrap makes the error match ErrParam with errors.Is.
func (e *ParamError) Unwrap() error {
	return ErrParam
}
