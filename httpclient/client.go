package httpclient

import (
	"context"
	"net/http"

	"github.com/kroma-labs/hedge-go/hedge"
	"github.com/kroma-labs/hedge-go/latency"
)

// Client is an HTTP client that hedges slow requests, with OpenTelemetry
// instrumentation on every attempt.
//
// Create a Client using New():
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("search-service"),
//	    httpclient.WithAdaptiveHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	)
//
//	resp, err := client.Get(ctx, "https://search.internal/v1/query?q=go")
type Client struct {
	// httpClient is the underlying HTTP client with transport chain.
	httpClient *http.Client

	// config holds all client configuration.
	config *internalConfig

	// hedger is nil when hedging is disabled.
	hedger *hedgeTransport
}

// New creates a Client with production-ready defaults and OpenTelemetry
// instrumentation.
//
// The transport chain, outermost first, is:
//
//	hedging -> instrumentation -> chaos (optional) -> network or mock
//
// Example - Fixed delay:
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("user-service"),
//	    httpclient.WithHedging(httpclient.HedgeConfig{
//	        Delay:     30 * time.Millisecond,
//	        MaxHedges: 1,
//	    }),
//	)
func New(opts ...Option) *Client {
	return NewWithTransport(nil, opts...)
}

// NewTransport creates a hedging, instrumented http.RoundTripper that can be
// used with a custom http.Client. If base is nil, a transport built from
// Config is used.
//
// Example:
//
//	transport := httpclient.NewTransport(http.DefaultTransport,
//	    httpclient.WithServiceName("my-service"),
//	    httpclient.WithAdaptiveHedging(httpclient.DefaultAdaptiveHedgeConfig()),
//	)
//	client := &http.Client{
//	    Transport: transport,
//	    Timeout:   30 * time.Second,
//	}
func NewTransport(base http.RoundTripper, opts ...Option) http.RoundTripper {
	cfg := newConfig(opts...)
	return buildChain(base, cfg)
}

// NewWithTransport creates a Client that issues each attempt through base.
// If base is nil, a transport built from Config is used.
//
// Example:
//
//	transport := &http.Transport{
//	    MaxIdleConnsPerHost: 50,
//	    DisableCompression:  true,
//	}
//	client := httpclient.NewWithTransport(transport,
//	    httpclient.WithServiceName("my-service"),
//	)
func NewWithTransport(base http.RoundTripper, opts ...Option) *Client {
	cfg := newConfig(opts...)
	return newClient(&http.Client{Timeout: cfg.httpConfig.Timeout}, base, cfg)
}

// WrapClient wraps an existing http.Client's transport with hedging and
// instrumentation.
//
// This modifies the client in-place and returns a new Client wrapper.
// If the client has no transport, http.DefaultTransport is used.
//
// Example:
//
//	httpClient := &http.Client{Timeout: 30 * time.Second}
//	client := httpclient.WrapClient(httpClient,
//	    httpclient.WithServiceName("my-service"),
//	    httpclient.WithHedging(httpclient.HedgeConfig{Delay: 40 * time.Millisecond, MaxHedges: 1}),
//	)
func WrapClient(httpClient *http.Client, opts ...Option) *Client {
	cfg := newConfig(opts...)

	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return newClient(httpClient, base, cfg)
}

func newClient(httpClient *http.Client, base http.RoundTripper, cfg *internalConfig) *Client {
	rt := buildChain(base, cfg)
	httpClient.Transport = rt

	c := &Client{httpClient: httpClient, config: cfg}
	if ht, ok := rt.(*hedgeTransport); ok {
		c.hedger = ht
	}
	return c
}

func buildChain(base http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	instrumented := newOtelTransport(cfg.baseTransport(base), cfg)
	return newHedgeTransport(instrumented, cfg)
}

// HTTP returns the underlying *http.Client for advanced use cases, such as
// passing the client to third-party libraries expecting *http.Client.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// Do sends req. Idempotent requests are hedged when hedging is enabled.
//
// The caller must close the response body. Until it does, the winning
// attempt keeps its resources.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Get issues a GET to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Hedging reports whether the client hedges requests.
func (c *Client) Hedging() bool {
	return c.hedger != nil
}

// Policy returns the hedge policy, or nil when hedging is disabled.
func (c *Client) Policy() hedge.Policy[*http.Request, *http.Response] {
	if c.hedger == nil {
		return nil
	}
	return c.hedger.dispatcher.Policy()
}

// Tracker returns the latency tracker behind adaptive hedging, or nil when
// the client does not hedge adaptively.
//
// Example:
//
//	if t := client.Tracker(); t != nil {
//	    snap := t.Snapshot()
//	    log.Info().Dur("p95", snap.P95).Msg("search latency")
//	}
func (c *Client) Tracker() *latency.Tracker {
	if p, ok := c.Policy().(*hedge.PercentilePolicy[*http.Request, *http.Response]); ok {
		return p.Tracker()
	}
	return nil
}
