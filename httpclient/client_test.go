package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/hedge-go/hedge"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		wantHedging bool
		wantTracker bool
	}{
		{
			name:        "given no options, then hedging is off",
			wantHedging: false,
		},
		{
			name:        "given fixed hedging, then hedges without tracker",
			opts:        []Option{WithHedging(HedgeConfig{Delay: 10 * time.Millisecond, MaxHedges: 1})},
			wantHedging: true,
		},
		{
			name:        "given adaptive hedging, then exposes tracker",
			opts:        []Option{WithAdaptiveHedging(DefaultAdaptiveHedgeConfig())},
			wantHedging: true,
			wantTracker: true,
		},
		{
			name: "given invalid adaptive config, then hedging is off",
			opts: []Option{WithAdaptiveHedging(AdaptiveHedgeConfig{
				TargetPercentile: 2,
				FallbackDelay:    time.Millisecond,
				MaxHedges:        1,
			})},
			wantHedging: false,
		},
		{
			name: "given explicit policy, then it takes precedence",
			opts: []Option{
				WithHedging(HedgeConfig{Delay: 10 * time.Millisecond, MaxHedges: 1}),
				WithHedgePolicy(hedge.NoHedgePolicy[*http.Request, *http.Response]{}),
			},
			wantHedging: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.opts...)

			require.NotNil(t, client.HTTP())
			assert.Equal(t, tt.wantHedging, client.Hedging())
			assert.Equal(t, tt.wantTracker, client.Tracker() != nil)
		})
	}
}

func TestClient_AdaptiveLearnsLatency(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")

	cfg := DefaultAdaptiveHedgeConfig()
	cfg.MinSamples = 5
	client := New(WithMockTransport(mock), WithAdaptiveHedging(cfg))

	for range 5 {
		resp, err := client.Get(context.Background(), "http://users.internal/v1/users/42")
		require.NoError(t, err)
		resp.Body.Close()
	}

	tracker := client.Tracker()
	require.NotNil(t, tracker)
	assert.Equal(t, int64(5), tracker.Count())
}

func TestClient_Listeners(t *testing.T) {
	var winners atomic.Int32
	listener := hedge.ListenerFunc[*http.Request, *http.Response](
		func(_ context.Context, o hedge.Outcome[*http.Request, *http.Response]) {
			if o.IsHedge() {
				winners.Add(1)
			}
		},
	)

	mock := NewMockTransport().
		StubCall(0, MockCall{Hang: true}).
		StubCall(1, MockCall{Body: "hedge"})

	client := New(
		WithMockTransport(mock),
		WithHedging(HedgeConfig{Delay: 5 * time.Millisecond, MaxHedges: 1}),
		WithHedgeListeners(listener),
	)

	resp, err := client.Get(context.Background(), "http://users.internal/v1/users/42")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), winners.Load())
}

func TestClient_Budget(t *testing.T) {
	mock := NewMockTransport().
		StubCall(0, MockCall{Delay: 40 * time.Millisecond}).
		StubDefault(MockCall{Hang: true})

	client := New(
		WithMockTransport(mock),
		WithHedging(HedgeConfig{Delay: 5 * time.Millisecond, MaxHedges: 3}),
		WithHedgeBudget(hedge.NewConcurrencyBudget(1)),
	)

	resp, err := client.Get(context.Background(), "http://users.internal/v1/users/42")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, mock.RequestCount(), "budget admits a single hedge")
}

func TestWrapClient(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	client := WrapClient(httpClient,
		WithHedging(HedgeConfig{Delay: time.Second, MaxHedges: 1}),
	)

	assert.Same(t, httpClient, client.HTTP())
	assert.NotNil(t, httpClient.Transport)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(1), requests.Load())
}

func TestNewTransport(t *testing.T) {
	mock := NewMockTransport().
		StubCall(0, MockCall{Hang: true}).
		StubCall(1, MockCall{Body: "hedge"})

	rt := NewTransport(mock, WithHedging(HedgeConfig{Delay: 5 * time.Millisecond, MaxHedges: 1}))
	httpClient := &http.Client{Transport: rt, Timeout: 5 * time.Second}

	resp, err := httpClient.Get("http://users.internal/v1/users/42")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, mock.RequestCount())
}
