package hedge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsListener records winning outcomes as OpenTelemetry metrics.
//
// Instruments:
//   - hedge.winner.duration: latency of the winning attempt in seconds
//   - hedge.winner.count: number of races won, by hedge.kind and hedge.index
//
// The ratio of hedge to primary wins tells whether the hedge delay is tuned
// well. A high hedge share means the delay is too short or the downstream is
// degraded.
type MetricsListener[Req, Resp any] struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
	attrs    []attribute.KeyValue
}

// NewMetricsListener creates a MetricsListener on provider. If provider is
// nil, the global provider from otel.GetMeterProvider() is used. attrs are
// added to every measurement.
//
// Example:
//
//	listener, err := hedge.NewMetricsListener[string, []byte](mp,
//	    attribute.String("hedge.name", "profile-service"),
//	)
func NewMetricsListener[Req, Resp any](
	provider metric.MeterProvider,
	attrs ...attribute.KeyValue,
) (*MetricsListener[Req, Resp], error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(scope)

	duration, err := meter.Float64Histogram(
		"hedge.winner.duration",
		metric.WithDescription("Latency of the winning attempt of hedged dispatches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	count, err := meter.Int64Counter(
		"hedge.winner.count",
		metric.WithDescription("Number of hedged dispatches won, by attempt"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsListener[Req, Resp]{
		duration: duration,
		count:    count,
		attrs:    attrs,
	}, nil
}

// Record implements Listener.
func (l *MetricsListener[Req, Resp]) Record(ctx context.Context, outcome Outcome[Req, Resp]) {
	attrs := make([]attribute.KeyValue, 0, len(l.attrs)+2)
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs,
		attribute.String("hedge.kind", kind(outcome.HedgeIndex)),
		attribute.Int("hedge.index", outcome.HedgeIndex),
	)
	opt := metric.WithAttributes(attrs...)

	l.duration.Record(ctx, outcome.Elapsed.Seconds(), opt)
	l.count.Add(ctx, 1, opt)
}
