package httpclient

import (
	"net/http"
	"time"

	"github.com/kroma-labs/hedge-go/hedge"
	"github.com/kroma-labs/hedge-go/latency"
)

// AdaptiveHedgeConfig configures adaptive hedged requests.
//
// Adaptive hedging derives the hedge delay from the rolling latency of the
// client's own successful requests. This eliminates the need to manually
// configure P95 latency values, and follows the downstream as it speeds up
// or slows down.
//
// Example usage:
//
//	cfg := httpclient.DefaultAdaptiveHedgeConfig()
//	cfg.TargetPercentile = 0.99
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("search-service"),
//	    httpclient.WithAdaptiveHedging(cfg),
//	)
//
// After MinSamples successful responses have been observed within the
// window, the hedge delay is the TargetPercentile latency. Until then,
// FallbackDelay is used.
type AdaptiveHedgeConfig struct {
	// TargetPercentile is the percentile to use for hedge delay (0-1).
	// For example, 0.95 means hedge after P95 latency.
	//
	// Default: 0.95 (P95)
	TargetPercentile float64

	// MinSamples is the minimum number of samples required before
	// adaptive delay calculation kicks in.
	//
	// Default: 10
	MinSamples int

	// FallbackDelay is used when insufficient samples are available.
	//
	// Default: 50ms
	FallbackDelay time.Duration

	// MaxHedges is the maximum number of hedge requests.
	//
	// Default: 1
	MaxHedges int

	// Window configures the rolling latency window. Ignored when Tracker
	// is set.
	//
	// Default: latency.DefaultConfig()
	Window latency.Config

	// Tracker is the latency tracker to use. Share one tracker between
	// clients that call the same downstream. If nil, a tracker is created
	// from Window.
	Tracker *latency.Tracker

	// ShouldHedge selects the requests that may be hedged and whose
	// latency is learned.
	//
	// Default: IsIdempotent
	ShouldHedge func(req *http.Request) bool
}

// DefaultAdaptiveHedgeConfig returns reasonable defaults for adaptive hedging.
func DefaultAdaptiveHedgeConfig() AdaptiveHedgeConfig {
	return AdaptiveHedgeConfig{
		TargetPercentile: 0.95,
		MinSamples:       10,
		FallbackDelay:    50 * time.Millisecond,
		MaxHedges:        1,
		Window:           latency.DefaultConfig(),
	}
}

// Enabled returns true if the config is valid for adaptive hedging.
func (c AdaptiveHedgeConfig) Enabled() bool {
	return c.FallbackDelay > 0 && c.MaxHedges > 0
}

// Policy returns the hedge policy described by the configuration. Options
// apply to the tracker created from Window.
func (c AdaptiveHedgeConfig) Policy(opts ...latency.Option) (*hedge.PercentilePolicy[*http.Request, *http.Response], error) {
	tracker := c.Tracker
	if tracker == nil {
		window := c.Window
		if window == (latency.Config{}) {
			window = latency.DefaultConfig()
		}

		var err error
		tracker, err = latency.NewTracker(window, opts...)
		if err != nil {
			return nil, err
		}
	}

	shouldHedge := c.ShouldHedge
	if shouldHedge == nil {
		shouldHedge = IsIdempotent
	}

	return hedge.NewPercentilePolicy(hedge.PercentileConfig[*http.Request, *http.Response]{
		Percentile:    c.TargetPercentile,
		MaxHedges:     c.MaxHedges,
		ShouldTrack:   shouldHedge,
		IsSuccess:     IsSuccessStatus,
		MinSamples:    c.MinSamples,
		FallbackDelay: c.FallbackDelay,
	}, tracker)
}
