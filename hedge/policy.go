package hedge

import (
	"context"
	"time"
)

// Policy decides whether and when a request is hedged, and learns from the
// winning outcome of each dispatch.
//
// The planning methods are called once per dispatch before the primary is
// issued. Record is called at most once per dispatch, for the winner only,
// and never when the dispatch fails.
type Policy[Req, Resp any] interface {
	// ShouldHedge reports whether req may be hedged at all.
	ShouldHedge(req Req) bool

	// NumberOfHedgedRequests returns how many hedges to fire once the
	// delay has elapsed. Negative values are treated as zero.
	NumberOfHedgedRequests(req Req) int

	// DelayBeforeHedging returns how long to wait after issuing the primary
	// before firing the hedges. A negative delay disables hedging for req.
	DelayBeforeHedging(req Req) time.Duration

	// Record observes the winning outcome of a dispatch.
	Record(ctx context.Context, outcome Outcome[Req, Resp])
}

// Listener observes the winning outcome of every successful dispatch.
//
// Listeners run synchronously on the dispatching goroutine after the
// policy's Record, in registration order. A panicking listener is recovered
// and does not affect the dispatch result or the listeners after it.
type Listener[Req, Resp any] interface {
	Record(ctx context.Context, outcome Outcome[Req, Resp])
}

// ListenerFunc adapts an ordinary function to the Listener interface.
type ListenerFunc[Req, Resp any] func(ctx context.Context, outcome Outcome[Req, Resp])

// Record calls f(ctx, outcome).
func (f ListenerFunc[Req, Resp]) Record(ctx context.Context, outcome Outcome[Req, Resp]) {
	f(ctx, outcome)
}
