package httpclient

import (
	"math/rand/v2"
	"time"
)

// ChaosConfig configures fault injection below the hedging layer.
//
// Chaos lets you watch hedging at work in development: slow down a share of
// attempts and check that hedges pick up the slack.
//
// Example usage:
//
//	client := httpclient.New(
//	    httpclient.WithAdaptiveHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	    httpclient.WithChaos(httpclient.ChaosConfig{
//	        Latency:       20 * time.Millisecond,
//	        LatencyJitter: 200 * time.Millisecond, // long tail
//	        ErrorRate:     0.05,
//	    }),
//	)
type ChaosConfig struct {
	// Latency adds a fixed delay to every attempt.
	// Default: 0 (no added latency)
	Latency time.Duration

	// LatencyJitter adds a random delay in [0, LatencyJitter) on top of
	// Latency.
	// Default: 0 (no jitter)
	LatencyJitter time.Duration

	// ErrorRate is the probability (0.0-1.0) of failing an attempt with a
	// simulated network error.
	// Default: 0.0 (no errors injected)
	ErrorRate float64

	// TimeoutRate is the probability (0.0-1.0) of an attempt blocking until
	// it is cancelled.
	// Default: 0.0 (no timeouts simulated)
	TimeoutRate float64

	// PrimaryOnly restricts injection to primary attempts, so hedges always
	// reach the downstream unharmed.
	// Default: false
	PrimaryOnly bool
}

// Enabled returns true if any fault is configured.
func (c ChaosConfig) Enabled() bool {
	return c.Latency > 0 || c.LatencyJitter > 0 || c.ErrorRate > 0 || c.TimeoutRate > 0
}

// Delay returns the total delay to apply, including jitter.
func (c ChaosConfig) Delay() time.Duration {
	delay := c.Latency
	if c.LatencyJitter > 0 {
		delay += rand.N(c.LatencyJitter) //nolint:gosec
	}
	return delay
}

// ShouldInjectError returns true if an error should be injected based on ErrorRate.
func (c ChaosConfig) ShouldInjectError() bool {
	return c.ErrorRate > 0 && rand.Float64() < c.ErrorRate //nolint:gosec
}

// ShouldInjectTimeout returns true if a timeout should be simulated based on TimeoutRate.
func (c ChaosConfig) ShouldInjectTimeout() bool {
	return c.TimeoutRate > 0 && rand.Float64() < c.TimeoutRate //nolint:gosec
}
