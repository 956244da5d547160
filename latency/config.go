package latency

import (
	"fmt"
	"time"
)

// Config holds the windowing and precision settings of a Tracker.
// Use DefaultConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// Example:
//
//	cfg := latency.DefaultConfig()
//	cfg.Window = 30 * time.Second
//	cfg.Buckets = 6
//
//	tracker, err := latency.NewTracker(cfg)
type Config struct {
	// Window is the total span of time covered by the tracker.
	// Samples older than Window stop contributing to percentile queries.
	//
	// Too short: percentiles jump around on bursty traffic.
	// Too long: the hedge delay reacts slowly to a degrading downstream.
	//
	// Default: 2m
	Window time.Duration

	// Buckets is the number of sub-windows Window is split into.
	// The window rotates one bucket at a time, so a larger value gives a
	// smoother expiry of old samples at the cost of more memory.
	//
	// Default: 12 (10s per bucket with the default Window)
	Buckets int

	// LowestTrackable is the smallest latency the histogram can tell apart
	// from zero.
	//
	// Default: 1µs
	LowestTrackable time.Duration

	// HighestTrackable is the largest latency the histogram records.
	// Larger samples are clamped to this value.
	//
	// Default: 1h
	HighestTrackable time.Duration

	// SignificantDigits controls the relative error of percentile queries.
	// 2 digits bound the error to 1%, 3 digits to 0.1%.
	//
	// Default: 2
	SignificantDigits int
}

// DefaultConfig returns a two minute window split into twelve ten second
// buckets with 1% relative precision.
func DefaultConfig() Config {
	return Config{
		Window:            2 * time.Minute,
		Buckets:           12,
		LowestTrackable:   time.Microsecond,
		HighestTrackable:  time.Hour,
		SignificantDigits: 2,
	}
}

// Validate reports whether the configuration can back a Tracker.
func (c Config) Validate() error {
	switch {
	case c.Buckets <= 0:
		return fmt.Errorf("%w: buckets must be positive, got %d", ErrInvalidConfig, c.Buckets)
	case c.Window < time.Duration(c.Buckets):
		return fmt.Errorf("%w: window %s is too small for %d buckets", ErrInvalidConfig, c.Window, c.Buckets)
	case c.LowestTrackable <= 0:
		return fmt.Errorf("%w: lowest trackable must be positive", ErrInvalidConfig)
	case c.HighestTrackable < 2*c.LowestTrackable:
		return fmt.Errorf("%w: highest trackable must be at least twice the lowest", ErrInvalidConfig)
	case c.SignificantDigits < 1 || c.SignificantDigits > 5:
		return fmt.Errorf("%w: significant digits must be within [1, 5], got %d",
			ErrInvalidConfig, c.SignificantDigits)
	}
	return nil
}

// bucketWidth is the span of wall-clock time a single bucket covers.
func (c Config) bucketWidth() time.Duration {
	return c.Window / time.Duration(c.Buckets)
}
