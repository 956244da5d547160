package hedge

import (
	"context"
	"fmt"
	"time"

	"github.com/kroma-labs/hedge-go/latency"
)

// PercentileConfig configures a PercentilePolicy.
// Use DefaultPercentileConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// Example:
//
//	cfg := hedge.DefaultPercentileConfig[*http.Request, *http.Response]()
//	cfg.Percentile = 0.99
//	cfg.IsSuccess = httpclient.IsSuccessStatus
type PercentileConfig[Req, Resp any] struct {
	// Percentile is the latency percentile used as the hedge delay,
	// expressed as a fraction in (0, 1).
	//
	// Higher values hedge less often and only for the slowest requests.
	//
	// Default: 0.95 (P95)
	Percentile float64

	// MaxHedges is the number of hedges fired once the delay has elapsed.
	//
	// Default: 1
	MaxHedges int

	// ShouldTrack selects the requests that are hedged and whose latency is
	// learned. If nil, every request is tracked.
	ShouldTrack func(req Req) bool

	// IsSuccess decides whether a winning response contributes to the
	// latency window. Fast failures would otherwise drag the percentile
	// down. If nil, every winning response counts.
	IsSuccess func(resp Resp) bool

	// MinSamples is the number of samples the window must hold before the
	// percentile is trusted. Below it, FallbackDelay is used.
	//
	// Default: 0 (any non-empty window is trusted)
	MinSamples int

	// FallbackDelay is the hedge delay used while the window holds fewer
	// than max(1, MinSamples) samples. A negative value disables hedging
	// until enough data has been collected.
	//
	// Default: 0 (hedge immediately while cold)
	FallbackDelay time.Duration
}

// DefaultPercentileConfig returns a P95 policy firing a single hedge.
func DefaultPercentileConfig[Req, Resp any]() PercentileConfig[Req, Resp] {
	return PercentileConfig[Req, Resp]{
		Percentile: 0.95,
		MaxHedges:  1,
	}
}

// Validate reports whether the configuration can back a PercentilePolicy.
func (c PercentileConfig[Req, Resp]) Validate() error {
	if c.Percentile <= 0 || c.Percentile >= 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidPercentile, c.Percentile)
	}
	if c.MaxHedges < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxHedges, c.MaxHedges)
	}
	return nil
}

// PercentilePolicy derives the hedge delay from a rolling percentile of the
// latencies of successful winning attempts.
//
// Only winners are recorded, so the window tracks the latency callers
// actually observe. Hedging therefore keeps the percentile low once it
// starts paying off.
type PercentilePolicy[Req, Resp any] struct {
	cfg        PercentileConfig[Req, Resp]
	tracker    *latency.Tracker
	minSamples int64
}

// NewPercentilePolicy creates a PercentilePolicy backed by tracker.
// If tracker is nil, a tracker with latency.DefaultConfig() is created.
//
// Example:
//
//	tracker, _ := latency.NewTracker(latency.DefaultConfig())
//	policy, err := hedge.NewPercentilePolicy(
//	    hedge.DefaultPercentileConfig[*http.Request, *http.Response](),
//	    tracker,
//	)
func NewPercentilePolicy[Req, Resp any](
	cfg PercentileConfig[Req, Resp],
	tracker *latency.Tracker,
) (*PercentilePolicy[Req, Resp], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = latency.NewDefaultTracker()
	}

	return &PercentilePolicy[Req, Resp]{
		cfg:        cfg,
		tracker:    tracker,
		minSamples: int64(max(1, cfg.MinSamples)),
	}, nil
}

// Tracker returns the latency tracker backing the policy.
func (p *PercentilePolicy[Req, Resp]) Tracker() *latency.Tracker {
	return p.tracker
}

// ShouldHedge implements Policy.
func (p *PercentilePolicy[Req, Resp]) ShouldHedge(req Req) bool {
	return p.shouldTrack(req)
}

// NumberOfHedgedRequests implements Policy.
func (p *PercentilePolicy[Req, Resp]) NumberOfHedgedRequests(Req) int {
	return p.cfg.MaxHedges
}

// DelayBeforeHedging implements Policy. It returns the configured percentile
// of the latency window, or FallbackDelay while the window is too sparse.
func (p *PercentilePolicy[Req, Resp]) DelayBeforeHedging(Req) time.Duration {
	if p.tracker.Count() < p.minSamples {
		return p.cfg.FallbackDelay
	}
	return p.tracker.Percentile(p.cfg.Percentile)
}

// Record implements Policy. Only tracked requests with a successful response
// contribute to the window.
func (p *PercentilePolicy[Req, Resp]) Record(_ context.Context, outcome Outcome[Req, Resp]) {
	if !p.shouldTrack(outcome.Request) || !p.isSuccess(outcome.Response) {
		return
	}
	p.tracker.Record(outcome.Elapsed)
}

func (p *PercentilePolicy[Req, Resp]) shouldTrack(req Req) bool {
	return p.cfg.ShouldTrack == nil || p.cfg.ShouldTrack(req)
}

func (p *PercentilePolicy[Req, Resp]) isSuccess(resp Resp) bool {
	return p.cfg.IsSuccess == nil || p.cfg.IsSuccess(resp)
}
