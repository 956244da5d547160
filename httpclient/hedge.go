package httpclient

import (
	"net/http"
	"time"

	"github.com/kroma-labs/hedge-go/hedge"
)

// HedgeConfig configures hedged requests with a fixed delay.
//
// Hedged requests reduce tail latency by sending duplicates of a request
// that hasn't completed within Delay. The first successful response is
// used and the remaining attempts are cancelled.
//
// IMPORTANT: Hedged requests should only be used for idempotent operations.
// By default only idempotent methods are hedged, see IsIdempotent.
//
// Example usage:
//
//	client := httpclient.New(
//	    httpclient.WithHedging(httpclient.HedgeConfig{
//	        Delay:     50 * time.Millisecond,  // Hedge after 50ms
//	        MaxHedges: 1,                       // Send 1 hedge request
//	    }),
//	)
//
// Best practices:
//   - Set Delay to the P95 or P99 latency of your target service
//   - Use MaxHedges of 1-2 to limit overhead
//   - Prefer WithAdaptiveHedging when latency drifts over time
type HedgeConfig struct {
	// Delay is how long to wait before sending the hedge requests.
	// All MaxHedges hedges are sent together once it elapses.
	//
	// Too short: Excessive hedging wastes resources.
	// Too long: Hedging won't help with tail latency.
	//
	// Default: 0 (disabled - no hedging)
	Delay time.Duration

	// MaxHedges is the number of hedge requests to send.
	//
	// With MaxHedges=1, at most 2 requests are in flight (original + 1 hedge).
	//
	// Default: 0 (disabled - no hedging)
	MaxHedges int

	// ShouldHedge selects the requests that may be hedged.
	//
	// Default: IsIdempotent
	ShouldHedge func(req *http.Request) bool
}

// Enabled returns true if hedging is configured.
func (c HedgeConfig) Enabled() bool {
	return c.Delay > 0 && c.MaxHedges > 0
}

// Policy returns the hedge policy described by the configuration.
func (c HedgeConfig) Policy() *hedge.FixedPolicy[*http.Request, *http.Response] {
	shouldHedge := c.ShouldHedge
	if shouldHedge == nil {
		shouldHedge = IsIdempotent
	}
	return &hedge.FixedPolicy[*http.Request, *http.Response]{
		Delay:       c.Delay,
		MaxHedges:   c.MaxHedges,
		ShouldTrack: shouldHedge,
	}
}
