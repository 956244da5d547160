package hedge

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusConfig names the collectors of a PrometheusListener.
type PrometheusConfig struct {
	// Namespace and Subsystem prefix the metric names.
	//
	// Default: "hedge" and "" (hedge_winner_duration_seconds)
	Namespace string
	Subsystem string

	// Name is the value of the "hedger" label, typically the downstream
	// client name.
	Name string

	// Buckets are the histogram buckets in seconds.
	//
	// Default: prometheus.DefBuckets
	Buckets []float64
}

// PrometheusListener exposes winning outcomes as Prometheus metrics:
//
//   - <ns>_winner_duration_seconds{hedger, kind}: latency of the winner
//   - <ns>_winner_total{hedger, kind}: number of races won
type PrometheusListener[Req, Resp any] struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	name     string
}

// NewPrometheusListener creates the listener's collectors and registers them
// on reg. Collectors already registered by another listener with the same
// names are reused, so listeners for several clients can share a registry.
//
// Example:
//
//	listener, err := hedge.NewPrometheusListener[string, []byte](
//	    prometheus.DefaultRegisterer,
//	    hedge.PrometheusConfig{Name: "profile-service"},
//	)
func NewPrometheusListener[Req, Resp any](
	reg prometheus.Registerer,
	cfg PrometheusConfig,
) (*PrometheusListener[Req, Resp], error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "hedge"
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = prometheus.DefBuckets
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "winner_duration_seconds",
		Help:      "Latency of the winning attempt of hedged dispatches.",
		Buckets:   cfg.Buckets,
	}, []string{"hedger", "kind"})

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "winner_total",
		Help:      "Number of hedged dispatches won, by attempt kind.",
	}, []string{"hedger", "kind"})

	var err error
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if total, err = register(reg, total); err != nil {
		return nil, err
	}

	return &PrometheusListener[Req, Resp]{
		duration: duration,
		total:    total,
		name:     cfg.Name,
	}, nil
}

// Record implements Listener.
func (l *PrometheusListener[Req, Resp]) Record(_ context.Context, outcome Outcome[Req, Resp]) {
	k := kind(outcome.HedgeIndex)
	l.duration.WithLabelValues(l.name, k).Observe(outcome.Elapsed.Seconds())
	l.total.WithLabelValues(l.name, k).Inc()
}

// register registers c on reg, returning the existing collector when an
// identical one is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
