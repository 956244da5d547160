package hedge

import (
	"context"
	"time"
)

// Attempt describes one invocation of the transport within a dispatch.
type Attempt struct {
	// HedgeIndex is 0 for the primary attempt and 1..N for hedges.
	HedgeIndex int

	// Start is when the attempt was issued.
	Start time.Time
}

// IsHedge reports whether the attempt is a hedge rather than the primary.
func (a Attempt) IsHedge() bool {
	return a.HedgeIndex > 0
}

// Outcome is the record of the winning attempt of a dispatch.
//
// Exactly one Outcome is produced per successful dispatch and it is handed
// to the policy and then to every listener.
type Outcome[Req, Resp any] struct {
	// Request is the request the dispatch was started with.
	Request Req

	// Response is the winning attempt's response.
	Response Resp

	// Elapsed is measured from the winning attempt's own start, not from the
	// start of the dispatch. For a hedge it excludes the hedge delay.
	Elapsed time.Duration

	// HedgeIndex is 0 when the primary won and 1..N when a hedge won.
	HedgeIndex int
}

// IsHedge reports whether a hedge won the race.
func (o Outcome[Req, Resp]) IsHedge() bool {
	return o.HedgeIndex > 0
}

// Transport performs a single attempt. Implementations must honor ctx: the
// dispatcher cancels it when the attempt loses the race or the caller gives
// up.
type Transport[Req, Resp any] func(ctx context.Context, req Req, attempt Attempt) (Resp, error)

// Result is the winner of a dispatch together with the handle that keeps the
// winning attempt's context alive.
//
// Responses that stay bound to their context after the transport returns,
// such as an *http.Response body, remain readable until Release is called.
type Result[Req, Resp any] struct {
	Outcome[Req, Resp]

	release context.CancelFunc
}

// Release cancels the winning attempt's context. It is safe to call more
// than once and on a nil Result.
func (r *Result[Req, Resp]) Release() {
	if r != nil && r.release != nil {
		r.release()
	}
}
