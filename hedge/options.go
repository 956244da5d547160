package hedge

import (
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/hedge-go/hedge"
)

// options holds the dispatcher settings shared by every Req/Resp pair.
type options struct {
	// name identifies the dispatcher in logs and metrics.
	// Added as "hedge.name" attribute on metrics.
	name string

	logger zerolog.Logger
	clock  quartz.Clock

	// budget limits how many hedges may be issued. Nil means unlimited.
	budget Budget

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	meterProvider metric.MeterProvider

	// discard receives successful responses that lost the race.
	discard func(any)
}

// Option configures a Dispatcher.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger:        zerolog.Nop(),
		clock:         quartz.NewReal(),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// baseAttributes returns common attributes for all metrics.
func (o *options) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if o.name != "" {
		attrs = append(attrs, attribute.String("hedge.name", o.name))
	}
	return attrs
}

// WithName sets the name reported in logs and metrics, typically the name
// of the downstream client being hedged.
//
// Example:
//
//	d := hedge.NewDispatcher(policy, nil, hedge.WithName("user-service"))
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger used for attempt failures, budget rejections
// and recovered panics.
//
// Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock that drives the hedge timer and attempt timing.
//
// Default: quartz.NewReal()
func WithClock(clock quartz.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBudget limits the hedges issued by the dispatcher. A hedge that cannot
// acquire from the budget is skipped; the primary is never limited.
//
// Example:
//
//	d := hedge.NewDispatcher(policy, nil,
//	    hedge.WithBudget(hedge.NewConcurrencyBudget(32)),
//	)
func WithBudget(budget Budget) Option {
	return func(o *options) {
		o.budget = budget
	}
}

// WithMeterProvider sets the meter provider for dispatcher metrics.
//
// Default: otel.GetMeterProvider()
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}

// WithDiscard registers a hook that receives successful responses arriving
// after the race is decided. Use it to release resources held by losing
// responses. The hook is never called for the winner.
//
// Example:
//
//	hedge.WithDiscard(func(resp *http.Response) {
//	    resp.Body.Close()
//	})
func WithDiscard[Resp any](fn func(Resp)) Option {
	return func(o *options) {
		if fn == nil {
			o.discard = nil
			return
		}
		o.discard = func(v any) {
			if resp, ok := v.(Resp); ok {
				fn(resp)
			}
		}
	}
}
