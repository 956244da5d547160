package httpclient

import (
	"errors"
	"net"
	"net/http"

	"github.com/coder/quartz"
)

// ErrChaosInjected is returned when chaos injection simulates a network error.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// chaosTransport wraps an http.RoundTripper to inject faults for testing.
type chaosTransport struct {
	next   http.RoundTripper
	config ChaosConfig
	clock  quartz.Clock
}

// newChaosTransport creates a new chaos transport wrapper.
func newChaosTransport(next http.RoundTripper, cfg ChaosConfig, clock quartz.Clock) http.RoundTripper {
	return &chaosTransport{
		next:   next,
		config: cfg,
		clock:  clock,
	}
}

// RoundTrip implements http.RoundTripper with chaos injection.
func (t *chaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if t.config.PrimaryOnly {
		if a, ok := AttemptFromContext(ctx); ok && a.IsHedge() {
			return t.next.RoundTrip(req)
		}
	}

	if t.config.ShouldInjectTimeout() {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if t.config.ShouldInjectError() {
		return nil, &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: ErrChaosInjected,
		}
	}

	if delay := t.config.Delay(); delay > 0 {
		timer := t.clock.NewTimer(delay, "chaos")
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return t.next.RoundTrip(req)
}
