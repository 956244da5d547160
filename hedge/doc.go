// Package hedge reduces tail latency by racing duplicate requests.
//
// A Dispatcher issues the primary attempt at once. If no attempt has
// succeeded after a delay chosen by a Policy, it fires one or more hedges
// and returns whichever attempt succeeds first. The technique is described
// in Google's "The Tail at Scale" paper; with a delay near the P95 latency
// it typically costs a few percent of extra requests.
//
// IMPORTANT: only hedge idempotent operations. Every hedge is a real
// request and may reach the downstream even when it loses the race.
//
// # Quick Start
//
//	policy, err := hedge.NewPercentilePolicy(
//	    hedge.DefaultPercentileConfig[string, []byte](),
//	    nil, // default two minute latency window
//	)
//	if err != nil {
//	    return err
//	}
//
//	d := hedge.NewDispatcher[string, []byte](policy, nil)
//
//	body, err := d.Dispatch(ctx, key, func(ctx context.Context, key string, a hedge.Attempt) ([]byte, error) {
//	    return store.Get(ctx, key)
//	})
//
// # Policies
//
//   - PercentilePolicy: delay is a rolling percentile of winning latencies
//   - FixedPolicy: static delay and hedge count
//   - NoHedgePolicy: never hedges
//
// # Failure Semantics
//
// Hedge failures are swallowed and logged at debug level: a hedge exists
// only to beat a slow primary. A primary failure fails the dispatch
// immediately with the primary's error and cancels every hedge. Cancelling
// the caller's context cancels every attempt and the dispatch returns
// ctx.Err().
//
// # Outcome Reporting
//
// Each successful dispatch produces exactly one Outcome, for the winner.
// It is recorded to the policy first and then to each Listener in order.
// Panics in these callbacks are recovered and logged. Failed dispatches
// record nothing.
//
// # Budgets
//
// WithBudget caps the extra load hedging may add:
//
//	d := hedge.NewDispatcher(policy, nil,
//	    hedge.WithBudget(hedge.NewRateBudget(10, 20)),
//	)
package hedge
