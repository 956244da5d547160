package hedge

import (
	"context"
	"fmt"
	"time"
)

// FixedPolicy hedges with a static delay and hedge count.
//
// Use it when the latency profile of the downstream is known and stable.
// Set Delay to the P95 or P99 latency of the target service and keep
// MaxHedges at 1 or 2.
//
// Example:
//
//	policy := &hedge.FixedPolicy[*http.Request, *http.Response]{
//	    Delay:     50 * time.Millisecond,
//	    MaxHedges: 1,
//	}
type FixedPolicy[Req, Resp any] struct {
	// Delay is how long to wait after the primary before firing hedges.
	//
	// Too short: excessive hedging wastes downstream capacity.
	// Too long: hedging won't help with tail latency.
	Delay time.Duration

	// MaxHedges is the number of hedges fired once Delay has elapsed.
	// With MaxHedges=1 at most 2 attempts are in flight.
	MaxHedges int

	// ShouldTrack restricts hedging to matching requests.
	// If nil, every request may be hedged.
	ShouldTrack func(req Req) bool
}

// NewFixedPolicy returns a FixedPolicy hedging every request.
func NewFixedPolicy[Req, Resp any](delay time.Duration, maxHedges int) (*FixedPolicy[Req, Resp], error) {
	p := &FixedPolicy[Req, Resp]{Delay: delay, MaxHedges: maxHedges}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports whether the policy is usable.
func (p *FixedPolicy[Req, Resp]) Validate() error {
	if p.MaxHedges < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxHedges, p.MaxHedges)
	}
	return nil
}

// Enabled returns true if the policy fires any hedge.
func (p *FixedPolicy[Req, Resp]) Enabled() bool {
	return p.Delay >= 0 && p.MaxHedges > 0
}

// ShouldHedge implements Policy.
func (p *FixedPolicy[Req, Resp]) ShouldHedge(req Req) bool {
	if !p.Enabled() {
		return false
	}
	return p.ShouldTrack == nil || p.ShouldTrack(req)
}

// NumberOfHedgedRequests implements Policy.
func (p *FixedPolicy[Req, Resp]) NumberOfHedgedRequests(Req) int {
	return p.MaxHedges
}

// DelayBeforeHedging implements Policy.
func (p *FixedPolicy[Req, Resp]) DelayBeforeHedging(Req) time.Duration {
	return p.Delay
}

// Record implements Policy. A fixed policy does not learn.
func (p *FixedPolicy[Req, Resp]) Record(context.Context, Outcome[Req, Resp]) {}

// NoHedgePolicy never hedges. Dispatching through it issues exactly one
// attempt, which keeps listeners and metrics in place while hedging is off.
type NoHedgePolicy[Req, Resp any] struct{}

// ShouldHedge implements Policy.
func (NoHedgePolicy[Req, Resp]) ShouldHedge(Req) bool { return false }

// NumberOfHedgedRequests implements Policy.
func (NoHedgePolicy[Req, Resp]) NumberOfHedgedRequests(Req) int { return 0 }

// DelayBeforeHedging implements Policy.
func (NoHedgePolicy[Req, Resp]) DelayBeforeHedging(Req) time.Duration { return -1 }

// Record implements Policy.
func (NoHedgePolicy[Req, Resp]) Record(context.Context, Outcome[Req, Resp]) {}
