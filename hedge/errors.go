package hedge

import "errors"

var (
	// ErrInvalidPercentile is returned when a percentile lies outside (0, 1).
	ErrInvalidPercentile = errors.New("hedge: percentile must be within (0, 1)")

	// ErrInvalidMaxHedges is returned when the number of hedges is negative.
	ErrInvalidMaxHedges = errors.New("hedge: max hedges must not be negative")

	// ErrAttemptPanicked wraps the value recovered from a panicking transport.
	ErrAttemptPanicked = errors.New("hedge: attempt panicked")
)
