package hedge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Dispatch outcomes reported on hedge.dispatch.duration.
const (
	outcomeWonPrimary = "won_primary"
	outcomeWonHedge   = "won_hedge"
	outcomeFailed     = "failed"
	outcomeCancelled  = "cancelled"
)

// metrics holds the metric instruments for dispatcher operations.
type metrics struct {
	// attempts counts issued attempts by kind (primary or hedge).
	attempts metric.Int64Counter

	// attemptFailures counts attempts that returned an error.
	// Failures after the race is decided are not counted.
	attemptFailures metric.Int64Counter

	// budgetRejected counts hedges skipped because the budget was exhausted.
	budgetRejected metric.Int64Counter

	// dispatchDuration measures the caller-visible duration of a dispatch
	// in seconds.
	dispatchDuration metric.Float64Histogram
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.attempts, err = meter.Int64Counter(
		"hedge.attempts",
		metric.WithDescription("Number of attempts issued by the hedge dispatcher"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.attemptFailures, err = meter.Int64Counter(
		"hedge.attempt.failures",
		metric.WithDescription("Number of attempts that failed before the race was decided"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.budgetRejected, err = meter.Int64Counter(
		"hedge.budget.rejected",
		metric.WithDescription("Number of hedges skipped because the hedge budget was exhausted"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"hedge.dispatch.duration",
		metric.WithDescription("Duration of hedged dispatches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordAttempt records an issued attempt.
func (m *metrics) recordAttempt(ctx context.Context, hedgeIndex int, attrs []attribute.KeyValue) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(withKind(attrs, hedgeIndex)...))
}

// recordAttemptFailure records an attempt that failed while the race was open.
func (m *metrics) recordAttemptFailure(ctx context.Context, hedgeIndex int, attrs []attribute.KeyValue) {
	if m == nil || m.attemptFailures == nil {
		return
	}
	m.attemptFailures.Add(ctx, 1, metric.WithAttributes(withKind(attrs, hedgeIndex)...))
}

// recordBudgetRejected records a hedge skipped by the budget.
func (m *metrics) recordBudgetRejected(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.budgetRejected == nil {
		return
	}
	m.budgetRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordDispatch records the duration and outcome of a dispatch.
func (m *metrics) recordDispatch(
	ctx context.Context,
	duration time.Duration,
	outcome string,
	attrs []attribute.KeyValue,
) {
	if m == nil || m.dispatchDuration == nil {
		return
	}
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attrs...)
	allAttrs = append(allAttrs, attribute.String("hedge.outcome", outcome))
	m.dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
}

// kind returns the "hedge.kind" attribute value for an attempt index.
func kind(hedgeIndex int) string {
	if hedgeIndex > 0 {
		return "hedge"
	}
	return "primary"
}

func withKind(attrs []attribute.KeyValue, hedgeIndex int) []attribute.KeyValue {
	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	allAttrs = append(allAttrs, attrs...)
	allAttrs = append(allAttrs, attribute.String("hedge.kind", kind(hedgeIndex)))
	return allAttrs
}
