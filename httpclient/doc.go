// Package httpclient provides an HTTP client that hedges slow requests,
// with OpenTelemetry instrumentation on every attempt.
//
// # Features
//
//   - Fixed-delay hedging for downstreams with a known latency profile
//   - Adaptive hedging driven by a rolling latency percentile
//   - Only idempotent methods are hedged by default
//   - Losing responses are drained and closed in the background
//   - One client span per attempt, one internal span per hedged call
//   - Hedge budgets to cap the extra load on the downstream
//   - Mock and chaos transports for exercising hedging in tests
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("search-service"),
//	    httpclient.WithAdaptiveHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	)
//
//	resp, err := client.Get(ctx, "https://search.internal/v1/query?q=go")
//	if err != nil {
//	    return err
//	}
//	defer resp.Body.Close()
//
// # Fixed Delay
//
//	client := httpclient.New(
//	    httpclient.WithHedging(httpclient.HedgeConfig{
//	        Delay:     50 * time.Millisecond,
//	        MaxHedges: 1,
//	    }),
//	)
//
// # Adaptive Delay
//
// The hedge delay tracks the TargetPercentile of the latencies of 2xx
// responses observed over a sliding window. Until MinSamples responses have
// been seen, FallbackDelay is used:
//
//	cfg := httpclient.DefaultAdaptiveHedgeConfig()
//	cfg.TargetPercentile = 0.99
//	cfg.Window = latency.Config{
//	    Window:            time.Minute,
//	    Buckets:           6,
//	    LowestTrackable:   time.Microsecond,
//	    HighestTrackable:  time.Minute,
//	    SignificantDigits: 2,
//	}
//
// # Response Bodies
//
// The winning attempt stays alive until the response body is closed, so
// always close it. Responses of attempts that lose the race are drained and
// closed by the client.
//
// # Non-2xx Responses
//
// Any response counts as a win, including a 5xx. Only transport errors are
// treated as failures. A failing primary fails the call even while hedges
// are in flight; failing hedges are ignored.
//
// # Observability
//
// Attempt spans carry hedge.index and hedge.is_hedge. The span wrapping a
// hedged call carries hedge.dispatch_id and records a hedge.fired event per
// hedge. Metrics:
//
//   - http.client.request.duration (per attempt, labelled hedge.kind)
//   - http.client.request.error
//   - http.client.active_requests
//   - http.client.request.body.size
//   - hedge.attempts, hedge.attempt.failures, hedge.budget.rejected,
//     hedge.dispatch.duration (from package hedge)
package httpclient
