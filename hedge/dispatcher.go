package hedge

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Dispatcher races a primary attempt against delayed hedges and returns the
// first success.
//
// A dispatch proceeds as follows:
//
//  1. The policy is asked for the hedge delay and count.
//  2. The primary is issued immediately.
//  3. If the race is still open once the delay elapses, all hedges are
//     issued at the same instant.
//  4. The first attempt to succeed wins. Every other attempt is cancelled.
//  5. The winner is recorded to the policy and then to each listener.
//
// Failures are asymmetric: a failing hedge is logged and ignored, while a
// failing primary fails the whole dispatch at once, even if hedges are
// still in flight.
//
// A Dispatcher is safe for concurrent use.
type Dispatcher[Req, Resp any] struct {
	policy    Policy[Req, Resp]
	listeners []Listener[Req, Resp]

	name    string
	logger  zerolog.Logger
	clock   quartz.Clock
	budget  Budget
	discard func(any)
	metrics *metrics
	attrs   []attribute.KeyValue
}

// NewDispatcher creates a Dispatcher that asks policy for hedging decisions
// and reports winners to policy and then to listeners in order.
//
// Example:
//
//	policy, _ := hedge.NewPercentilePolicy(hedge.DefaultPercentileConfig[string, []byte](), nil)
//	d := hedge.NewDispatcher[string, []byte](policy, nil,
//	    hedge.WithName("profile-service"),
//	    hedge.WithLogger(logger),
//	)
//
//	body, err := d.Dispatch(ctx, userID, fetchProfile)
func NewDispatcher[Req, Resp any](
	policy Policy[Req, Resp],
	listeners []Listener[Req, Resp],
	opts ...Option,
) *Dispatcher[Req, Resp] {
	if policy == nil {
		panic("hedge: nil policy")
	}

	o := newOptions(opts...)

	// Metrics are optional; a nil *metrics records nothing.
	m, _ := newMetrics(o.meterProvider.Meter(scope))

	logger := o.logger
	if o.name != "" {
		logger = logger.With().Str("hedger", o.name).Logger()
	}

	return &Dispatcher[Req, Resp]{
		policy:    policy,
		listeners: append([]Listener[Req, Resp](nil), listeners...),
		name:      o.name,
		logger:    logger,
		clock:     o.clock,
		budget:    o.budget,
		discard:   o.discard,
		metrics:   m,
		attrs:     o.baseAttributes(),
	}
}

// Name returns the name set with WithName.
func (d *Dispatcher[Req, Resp]) Name() string {
	return d.name
}

// Policy returns the policy the dispatcher consults.
func (d *Dispatcher[Req, Resp]) Policy() Policy[Req, Resp] {
	return d.policy
}

// Dispatch runs a hedged race for req and returns the winning response.
//
// The winning attempt's context is cancelled before Dispatch returns, so
// issue must return responses that do not depend on it. Use DispatchResult
// for responses that are read after the transport returns.
func (d *Dispatcher[Req, Resp]) Dispatch(ctx context.Context, req Req, issue Transport[Req, Resp]) (Resp, error) {
	res, err := d.DispatchResult(ctx, req, issue)
	if err != nil {
		var zero Resp
		return zero, err
	}
	res.Release()
	return res.Response, nil
}

// attemptResult is what an attempt goroutine reports back to the race.
type attemptResult[Resp any] struct {
	index   int
	resp    Resp
	err     error
	elapsed time.Duration
}

// DispatchResult runs a hedged race for req and returns the winner.
//
// On success the winning attempt's context stays live until the caller calls
// Result.Release. On failure the error is the primary's error unchanged, or
// ctx.Err() when the caller's context ends first.
func (d *Dispatcher[Req, Resp]) DispatchResult(
	ctx context.Context,
	req Req,
	issue Transport[Req, Resp],
) (*Result[Req, Resp], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := d.clock.Now()
	delay, hedges := d.plan(req)

	// Every issued attempt sends exactly once, so the buffer never blocks.
	results := make(chan attemptResult[Resp], hedges+1)
	cancels := make([]context.CancelFunc, hedges+1)
	pending := 0

	launch := func(index int, release func()) {
		attemptCtx, cancel := context.WithCancel(ctx)
		cancels[index] = cancel
		pending++
		d.metrics.recordAttempt(ctx, index, d.attrs)
		go d.run(attemptCtx, req, issue, index, release, results)
	}

	launchHedges := func() {
		for i := 1; i <= hedges; i++ {
			release, ok := d.acquire()
			if !ok {
				d.metrics.recordBudgetRejected(ctx, d.attrs)
				d.logger.Debug().Int("hedge_index", i).Msg("hedge skipped, budget exhausted")
				continue
			}
			launch(i, release)
		}
	}

	launch(0, nil)

	var timerC <-chan time.Time
	switch {
	case hedges == 0:
	case delay == 0:
		launchHedges()
	default:
		timer := d.clock.NewTimer(delay, "hedge")
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			d.abandon(cancels, -1, results, pending)
			d.metrics.recordDispatch(ctx, d.clock.Since(start), outcomeCancelled, d.attrs)
			return nil, ctx.Err()

		case <-timerC:
			timerC = nil
			launchHedges()

		case r := <-results:
			pending--

			if r.err == nil {
				d.abandon(cancels, r.index, results, pending)

				outcome := Outcome[Req, Resp]{
					Request:    req,
					Response:   r.resp,
					Elapsed:    r.elapsed,
					HedgeIndex: r.index,
				}
				d.record(ctx, outcome)

				label := outcomeWonPrimary
				if outcome.IsHedge() {
					label = outcomeWonHedge
				}
				d.metrics.recordDispatch(ctx, d.clock.Since(start), label, d.attrs)

				return &Result[Req, Resp]{Outcome: outcome, release: cancels[r.index]}, nil
			}

			d.metrics.recordAttemptFailure(ctx, r.index, d.attrs)

			if r.index == 0 {
				d.abandon(cancels, -1, results, pending)
				d.metrics.recordDispatch(ctx, d.clock.Since(start), outcomeFailed, d.attrs)
				return nil, r.err
			}

			d.logger.Debug().
				Err(r.err).
				Int("hedge_index", r.index).
				Dur("elapsed", r.elapsed).
				Msg("hedged request failed")
		}
	}
}

// plan asks the policy how many hedges to fire and after which delay.
func (d *Dispatcher[Req, Resp]) plan(req Req) (time.Duration, int) {
	delay := d.policy.DelayBeforeHedging(req)
	should := d.policy.ShouldHedge(req)
	if !should || delay < 0 {
		return 0, 0
	}

	n := d.policy.NumberOfHedgedRequests(req)
	if n < 0 {
		n = 0
	}
	return delay, n
}

func (d *Dispatcher[Req, Resp]) acquire() (func(), bool) {
	if d.budget == nil {
		return nil, true
	}
	return d.budget.TryAcquire()
}

// run performs one attempt and reports its result.
func (d *Dispatcher[Req, Resp]) run(
	ctx context.Context,
	req Req,
	issue Transport[Req, Resp],
	index int,
	release func(),
	results chan<- attemptResult[Resp],
) {
	if release != nil {
		defer release()
	}

	attempt := Attempt{HedgeIndex: index, Start: d.clock.Now()}
	resp, err := invoke(ctx, req, issue, attempt)
	results <- attemptResult[Resp]{
		index:   index,
		resp:    resp,
		err:     err,
		elapsed: d.clock.Since(attempt.Start),
	}
}

func invoke[Req, Resp any](
	ctx context.Context,
	req Req,
	issue Transport[Req, Resp],
	attempt Attempt,
) (resp Resp, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAttemptPanicked, r)
		}
	}()
	return issue(ctx, req, attempt)
}

// abandon cancels every attempt except keep and drains the attempts still
// in flight in the background. Late successes go to the discard hook.
func (d *Dispatcher[Req, Resp]) abandon(
	cancels []context.CancelFunc,
	keep int,
	results <-chan attemptResult[Resp],
	pending int,
) {
	for i, cancel := range cancels {
		if cancel != nil && i != keep {
			cancel()
		}
	}

	if pending == 0 {
		return
	}

	go func() {
		for range pending {
			r := <-results
			if r.err != nil {
				continue
			}
			d.logger.Debug().
				Int("hedge_index", r.index).
				Dur("elapsed", r.elapsed).
				Msg("discarding late outcome")
			if d.discard != nil {
				d.safely("discard", func() { d.discard(r.resp) })
			}
		}
	}()
}

// record reports the winner to the policy and then to every listener.
func (d *Dispatcher[Req, Resp]) record(ctx context.Context, outcome Outcome[Req, Resp]) {
	d.safely("policy", func() { d.policy.Record(ctx, outcome) })
	for i, l := range d.listeners {
		d.safely("listener "+strconv.Itoa(i), func() { l.Record(ctx, outcome) })
	}
}

// safely runs fn, logging and swallowing any panic.
func (d *Dispatcher[Req, Resp]) safely(callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("callback", callback).
				Interface("panic", r).
				Msg("hedge callback panicked")
		}
	}()
	fn()
}
