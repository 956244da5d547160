package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/hedge-go/hedge"
)

func TestChaosConfig_Enabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  ChaosConfig
		want bool
	}{
		{name: "given zero value, then disabled", cfg: ChaosConfig{}, want: false},
		{name: "given latency, then enabled", cfg: ChaosConfig{Latency: time.Millisecond}, want: true},
		{name: "given jitter, then enabled", cfg: ChaosConfig{LatencyJitter: time.Millisecond}, want: true},
		{name: "given error rate, then enabled", cfg: ChaosConfig{ErrorRate: 0.1}, want: true},
		{name: "given timeout rate, then enabled", cfg: ChaosConfig{TimeoutRate: 0.1}, want: true},
		{name: "given only primary flag, then disabled", cfg: ChaosConfig{PrimaryOnly: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Enabled())
		})
	}
}

func TestChaosConfig_Delay(t *testing.T) {
	cfg := ChaosConfig{Latency: 10 * time.Millisecond, LatencyJitter: 5 * time.Millisecond}

	for range 50 {
		d := cfg.Delay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 15*time.Millisecond)
	}
}

func TestChaosTransport_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChaosConfig
		attempt *hedge.Attempt
		wantErr error
	}{
		{
			name:    "given error rate of one, then injects error",
			cfg:     ChaosConfig{ErrorRate: 1},
			wantErr: ErrChaosInjected,
		},
		{
			name:    "given timeout rate of one, then blocks until cancelled",
			cfg:     ChaosConfig{TimeoutRate: 1},
			wantErr: context.DeadlineExceeded,
		},
		{
			name:    "given primary only and a hedge, then passes through",
			cfg:     ChaosConfig{ErrorRate: 1, PrimaryOnly: true},
			attempt: &hedge.Attempt{HedgeIndex: 1},
		},
		{
			name:    "given primary only and the primary, then injects error",
			cfg:     ChaosConfig{ErrorRate: 1, PrimaryOnly: true},
			attempt: &hedge.Attempt{HedgeIndex: 0},
			wantErr: ErrChaosInjected,
		},
		{
			name: "given latency, then delays and passes through",
			cfg:  ChaosConfig{Latency: 5 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
			rt := newChaosTransport(mock, tt.cfg, quartz.NewReal())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if tt.attempt != nil {
				ctx = withAttempt(ctx, *tt.attempt)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com", nil)
			require.NoError(t, err)

			resp, err := rt.RoundTrip(req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, 0, mock.RequestCount())
				return
			}

			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, 1, mock.RequestCount())
		})
	}
}

func TestChaos_HedgeRecoversPrimaryFaults(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")

	client := New(
		WithMockTransport(mock),
		WithChaos(ChaosConfig{TimeoutRate: 1, PrimaryOnly: true}),
		WithHedging(HedgeConfig{Delay: 5 * time.Millisecond, MaxHedges: 1}),
	)

	resp, err := client.Get(context.Background(), "http://users.internal/v1/users/42")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1, mock.RequestCount(), "only the hedge reaches the downstream")
}
