package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/hedge-go/hedge"
	"github.com/kroma-labs/hedge-go/latency"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/hedge-go/httpclient"
)

// =============================================================================
// Config - HTTP Transport Configuration
// =============================================================================

// Config holds the HTTP transport configuration parameters.
// Use DefaultConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//	cfg.MaxIdleConnsPerHost = 25
//
//	client := httpclient.New(
//	    httpclient.WithConfig(cfg),
//	    httpclient.WithServiceName("payment-service"),
//	)
type Config struct {
	// Timeout specifies a time limit for the entire request lifecycle,
	// including every hedge and reading the response body.
	//
	// Keep it well above the hedge delay, otherwise hedges never get the
	// chance to win.
	//
	// Default: 15s
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across ALL hosts combined.
	//
	// Hedging multiplies concurrent requests by up to 1+MaxHedges at the
	// tail, so size the pool for that.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections to keep
	// for each host.
	//
	// Too low: hedges pay for a fresh connection and lose their head start.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the pool.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// DialTimeout limits the time spent establishing a TCP connection.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive specifies the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// TLSHandshakeTimeout limits the time spent on the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout limits the time waiting for response headers
	// after the request is written. Zero means no limit beyond Timeout.
	//
	// Default: 0
	ResponseHeaderTimeout time.Duration

	// ForceHTTP2 enables HTTP/2 when a custom dialer is used.
	//
	// Default: true
	ForceHTTP2 bool
}

// DefaultConfig returns a balanced configuration suitable for most use cases.
func DefaultConfig() Config {
	return Config{
		Timeout:             15 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceHTTP2:          true,
	}
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds all configuration including hedging and OTel settings.
type internalConfig struct {
	// HTTP transport configuration
	httpConfig Config

	// === OpenTelemetry Configuration ===

	// TracerProvider is the tracer provider to use.
	// If not set, uses the global provider via otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If not set, uses the global provider via otel.GetMeterProvider().
	MeterProvider metric.MeterProvider

	// Tracer is the tracer instance created from TracerProvider.
	Tracer trace.Tracer

	// Metrics holds the metric instruments.
	Metrics *metrics

	// Propagators configures the context propagators.
	// Default: TraceContext + Baggage (W3C standard)
	Propagators propagation.TextMapPropagator

	// === Service Identification ===

	// ServiceName identifies the downstream client.
	// Added as "http.client.name" attribute on spans and metrics, and used
	// as the hedge dispatcher name.
	ServiceName string

	// === Hedging ===

	// Hedge configures fixed-delay hedging. Ignored when AdaptiveHedge or
	// HedgePolicy is set.
	Hedge HedgeConfig

	// AdaptiveHedge configures percentile based hedging. Ignored when
	// HedgePolicy is set.
	AdaptiveHedge *AdaptiveHedgeConfig

	// HedgePolicy is a caller supplied policy and takes precedence.
	HedgePolicy hedge.Policy[*http.Request, *http.Response]

	// HedgeListeners observe the winner of every hedged request.
	HedgeListeners []hedge.Listener[*http.Request, *http.Response]

	// HedgeBudget limits the hedges issued by the client.
	HedgeBudget hedge.Budget

	// === Ambient ===

	// Logger receives hedge debug output. Default: zerolog.Nop()
	Logger zerolog.Logger

	// Clock drives hedge timers and injected chaos latency.
	Clock quartz.Clock

	// === Testing ===

	// MockTransport replaces the network transport when set.
	MockTransport *MockTransport

	// Chaos injects latency and failures below the hedging layer.
	Chaos ChaosConfig
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		Logger: zerolog.Nop(),
		Clock:  quartz.NewReal(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// Initialize tracer and meter after options are applied
	cfg.Tracer = cfg.TracerProvider.Tracer(scope)

	// Initialize metrics (ignore errors, will just be nil if fails)
	cfg.Metrics, _ = newMetrics(cfg.MeterProvider.Meter(scope))

	return cfg
}

// policy resolves the hedge policy from the configuration. It returns nil
// when hedging is disabled.
func (cfg *internalConfig) policy() hedge.Policy[*http.Request, *http.Response] {
	switch {
	case cfg.HedgePolicy != nil:
		return cfg.HedgePolicy
	case cfg.AdaptiveHedge != nil && cfg.AdaptiveHedge.Enabled():
		p, err := cfg.AdaptiveHedge.Policy(latency.WithClock(cfg.Clock))
		if err != nil {
			cfg.Logger.Error().Err(err).Msg("invalid adaptive hedge config, hedging disabled")
			return nil
		}
		return p
	case cfg.Hedge.Enabled():
		return cfg.Hedge.Policy()
	}
	return nil
}

// baseTransport returns the transport that performs a single attempt.
func (cfg *internalConfig) baseTransport(base http.RoundTripper) http.RoundTripper {
	if cfg.MockTransport != nil {
		base = cfg.MockTransport
	}
	if base == nil {
		base = cfg.buildTransport()
	}
	if cfg.Chaos.Enabled() {
		base = newChaosTransport(base, cfg.Chaos, cfg.Clock)
	}
	return base
}

// buildTransport creates an http.Transport from the configuration.
func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:   hc.DialTimeout,
		KeepAlive: hc.KeepAlive,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          hc.MaxIdleConns,
		MaxIdleConnsPerHost:   hc.MaxIdleConnsPerHost,
		IdleConnTimeout:       hc.IdleConnTimeout,
		TLSHandshakeTimeout:   hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout: hc.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     hc.ForceHTTP2,
	}
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithConfig sets the HTTP transport configuration.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithTimeout overrides Config.Timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.Timeout = d
	}
}

// WithServiceName sets the name of the downstream service.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets the tracer provider.
// If not set, uses the global provider via otel.GetTracerProvider().
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		if provider != nil {
			cfg.TracerProvider = provider
		}
	}
}

// WithMeterProvider sets the meter provider for client and hedge metrics.
// If not set, uses the global provider via otel.GetMeterProvider().
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		if provider != nil {
			cfg.MeterProvider = provider
		}
	}
}

// WithPropagators sets the propagators injected into every attempt.
func WithPropagators(propagators propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		if propagators != nil {
			cfg.Propagators = propagators
		}
	}
}

// WithLogger sets the logger for hedge debug output.
//
// Example:
//
//	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
//	client := httpclient.New(httpclient.WithLogger(logger))
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithClock sets the clock used by hedge timers and chaos latency.
func WithClock(clock quartz.Clock) Option {
	return func(cfg *internalConfig) {
		if clock != nil {
			cfg.Clock = clock
		}
	}
}

// WithHedging enables hedging with a fixed delay.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithHedging(httpclient.HedgeConfig{
//	        Delay:     50 * time.Millisecond,
//	        MaxHedges: 1,
//	    }),
//	)
func WithHedging(c HedgeConfig) Option {
	return func(cfg *internalConfig) {
		cfg.Hedge = c
	}
}

// WithAdaptiveHedging enables hedging with a delay derived from the rolling
// latency percentile of the client's successful requests.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithAdaptiveHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	)
func WithAdaptiveHedging(c AdaptiveHedgeConfig) Option {
	return func(cfg *internalConfig) {
		cfg.AdaptiveHedge = &c
	}
}

// WithHedgePolicy hedges with a caller supplied policy. It takes precedence
// over WithHedging and WithAdaptiveHedging.
func WithHedgePolicy(policy hedge.Policy[*http.Request, *http.Response]) Option {
	return func(cfg *internalConfig) {
		cfg.HedgePolicy = policy
	}
}

// WithHedgeListeners appends listeners notified of every hedged request's
// winner, in order.
func WithHedgeListeners(listeners ...hedge.Listener[*http.Request, *http.Response]) Option {
	return func(cfg *internalConfig) {
		cfg.HedgeListeners = append(cfg.HedgeListeners, listeners...)
	}
}

// WithHedgeBudget limits the hedges the client may issue.
//
// Example:
//
//	// At most 8 hedges in flight at once
//	client := httpclient.New(
//	    httpclient.WithAdaptiveHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	    httpclient.WithHedgeBudget(hedge.NewConcurrencyBudget(8)),
//	)
func WithHedgeBudget(budget hedge.Budget) Option {
	return func(cfg *internalConfig) {
		cfg.HedgeBudget = budget
	}
}

// WithMockTransport routes every attempt through mock instead of the network.
func WithMockTransport(mock *MockTransport) Option {
	return func(cfg *internalConfig) {
		cfg.MockTransport = mock
	}
}

// WithChaos injects latency and failures into every attempt.
// Intended for development and resilience testing only.
func WithChaos(c ChaosConfig) Option {
	return func(cfg *internalConfig) {
		cfg.Chaos = c
	}
}
