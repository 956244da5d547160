package hedge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step scripts the behavior of one attempt.
type step struct {
	delay time.Duration
	err   error
	// hang blocks until the attempt's context is cancelled.
	hang bool
	// ignoreCtx completes after delay even when cancelled.
	ignoreCtx bool
	panicWith any
}

type scriptedTransport struct {
	steps map[int]step

	calls     atomic.Int32
	cancelled atomic.Int32

	mu     sync.Mutex
	starts map[int]time.Time
}

func newScriptedTransport(steps map[int]step) *scriptedTransport {
	return &scriptedTransport{steps: steps, starts: make(map[int]time.Time)}
}

func (s *scriptedTransport) issue(ctx context.Context, req string, a Attempt) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.starts[a.HedgeIndex] = time.Now()
	s.mu.Unlock()

	st := s.steps[a.HedgeIndex]
	if st.panicWith != nil {
		panic(st.panicWith)
	}
	if st.hang {
		<-ctx.Done()
		s.cancelled.Add(1)
		return "", ctx.Err()
	}
	if st.ignoreCtx {
		time.Sleep(st.delay)
	} else {
		select {
		case <-ctx.Done():
			s.cancelled.Add(1)
			return "", ctx.Err()
		case <-time.After(st.delay):
		}
	}
	if st.err != nil {
		return "", st.err
	}
	return fmt.Sprintf("%s#%d", req, a.HedgeIndex), nil
}

func (s *scriptedTransport) start(index int) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts[index]
}

// recordingPolicy is a FixedPolicy that remembers recorded outcomes.
type recordingPolicy struct {
	FixedPolicy[string, string]

	mu       sync.Mutex
	outcomes []Outcome[string, string]
}

func newRecordingPolicy(delay time.Duration, maxHedges int) *recordingPolicy {
	return &recordingPolicy{FixedPolicy: FixedPolicy[string, string]{Delay: delay, MaxHedges: maxHedges}}
}

func (p *recordingPolicy) Record(_ context.Context, o Outcome[string, string]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
}

func (p *recordingPolicy) recorded() []Outcome[string, string] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outcome[string, string](nil), p.outcomes...)
}

type recordingListener struct {
	mu       sync.Mutex
	outcomes []Outcome[string, string]
}

func (l *recordingListener) Record(_ context.Context, o Outcome[string, string]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, o)
}

func (l *recordingListener) recorded() []Outcome[string, string] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Outcome[string, string](nil), l.outcomes...)
}

func TestDispatcher_Dispatch_NoHedge(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy[string, string]
	}{
		{
			name: "given should hedge is false, then issues exactly one attempt",
			policy: &FixedPolicy[string, string]{
				Delay:       10 * time.Millisecond,
				MaxHedges:   2,
				ShouldTrack: func(string) bool { return false },
			},
		},
		{
			name:   "given negative delay, then issues exactly one attempt",
			policy: &FixedPolicy[string, string]{Delay: -1, MaxHedges: 2},
		},
		{
			name:   "given zero hedges, then issues exactly one attempt",
			policy: &FixedPolicy[string, string]{Delay: 10 * time.Millisecond, MaxHedges: 0},
		},
		{
			name:   "given no hedge policy, then issues exactly one attempt",
			policy: NoHedgePolicy[string, string]{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newScriptedTransport(map[int]step{0: {delay: 60 * time.Millisecond}})
			d := NewDispatcher(tt.policy, nil)

			got, err := d.Dispatch(context.Background(), "req", transport.issue)

			require.NoError(t, err)
			assert.Equal(t, "req#0", got)
			assert.Equal(t, int32(1), transport.calls.Load())
		})
	}
}

func TestDispatcher_Dispatch_Race(t *testing.T) {
	type args struct {
		delay     time.Duration
		maxHedges int
		steps     map[int]step
	}

	tests := []struct {
		name           string
		args           args
		wantResp       string
		wantHedgeIndex int
		wantCalls      int32
		wantMinElapsed time.Duration
		wantMaxElapsed time.Duration
	}{
		{
			name: "given primary completes before the delay, then no hedge is sent",
			args: args{
				delay:     100 * time.Millisecond,
				maxHedges: 1,
				steps:     map[int]step{0: {delay: 20 * time.Millisecond}},
			},
			wantResp:       "req#0",
			wantHedgeIndex: 0,
			wantCalls:      1,
			wantMinElapsed: 20 * time.Millisecond,
			wantMaxElapsed: 100 * time.Millisecond,
		},
		{
			name: "given primary hangs and hedge succeeds, then hedge wins with its own elapsed",
			args: args{
				delay:     100 * time.Millisecond,
				maxHedges: 1,
				steps: map[int]step{
					0: {hang: true},
					1: {delay: 150 * time.Millisecond},
				},
			},
			wantResp:       "req#1",
			wantHedgeIndex: 1,
			wantCalls:      2,
			wantMinElapsed: 150 * time.Millisecond,
			wantMaxElapsed: 240 * time.Millisecond,
		},
		{
			name: "given primary succeeds while hedge hangs, then primary wins",
			args: args{
				delay:     100 * time.Millisecond,
				maxHedges: 1,
				steps: map[int]step{
					0: {delay: 200 * time.Millisecond},
					1: {hang: true},
				},
			},
			wantResp:       "req#0",
			wantHedgeIndex: 0,
			wantCalls:      2,
			wantMinElapsed: 200 * time.Millisecond,
			wantMaxElapsed: 290 * time.Millisecond,
		},
		{
			name: "given hedge fails, then failure is swallowed and primary wins",
			args: args{
				delay:     20 * time.Millisecond,
				maxHedges: 1,
				steps: map[int]step{
					0: {delay: 80 * time.Millisecond},
					1: {err: errors.New("hedge boom")},
				},
			},
			wantResp:       "req#0",
			wantHedgeIndex: 0,
			wantCalls:      2,
			wantMinElapsed: 80 * time.Millisecond,
			wantMaxElapsed: 170 * time.Millisecond,
		},
		{
			name: "given zero delay, then hedges fire with the primary",
			args: args{
				delay:     0,
				maxHedges: 2,
				steps: map[int]step{
					0: {hang: true},
					1: {hang: true},
					2: {delay: 10 * time.Millisecond},
				},
			},
			wantResp:       "req#2",
			wantHedgeIndex: 2,
			wantCalls:      3,
			wantMinElapsed: 10 * time.Millisecond,
			wantMaxElapsed: 100 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newScriptedTransport(tt.args.steps)
			policy := newRecordingPolicy(tt.args.delay, tt.args.maxHedges)
			first, second := &recordingListener{}, &recordingListener{}
			d := NewDispatcher[string, string](policy, []Listener[string, string]{first, second})

			got, err := d.Dispatch(context.Background(), "req", transport.issue)
			require.NoError(t, err)
			assert.Equal(t, tt.wantResp, got)

			// Give a late hedge timer the chance to misfire.
			time.Sleep(tt.args.delay + 50*time.Millisecond)
			assert.Equal(t, tt.wantCalls, transport.calls.Load())

			for _, recorded := range [][]Outcome[string, string]{
				policy.recorded(), first.recorded(), second.recorded(),
			} {
				require.Len(t, recorded, 1)
				assert.Equal(t, tt.wantHedgeIndex, recorded[0].HedgeIndex)
				assert.Equal(t, "req", recorded[0].Request)
				assert.Equal(t, tt.wantResp, recorded[0].Response)
				assert.GreaterOrEqual(t, recorded[0].Elapsed, tt.wantMinElapsed)
				assert.Less(t, recorded[0].Elapsed, tt.wantMaxElapsed)
			}
		})
	}
}

func TestDispatcher_Dispatch_PrimaryFailure(t *testing.T) {
	errPrimary := errors.New("primary boom")

	t.Run("given primary fails before the delay, then dispatch fails and nothing is recorded", func(t *testing.T) {
		transport := newScriptedTransport(map[int]step{
			0: {delay: 10 * time.Millisecond, err: errPrimary},
		})
		policy := newRecordingPolicy(100*time.Millisecond, 1)
		listener := &recordingListener{}
		d := NewDispatcher[string, string](policy, []Listener[string, string]{listener})

		start := time.Now()
		_, err := d.Dispatch(context.Background(), "req", transport.issue)

		require.ErrorIs(t, err, errPrimary)
		assert.Less(t, time.Since(start), 100*time.Millisecond)

		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), transport.calls.Load())
		assert.Empty(t, policy.recorded())
		assert.Empty(t, listener.recorded())
	})

	t.Run("given primary fails while hedge is in flight, then dispatch fails and hedge is cancelled", func(t *testing.T) {
		transport := newScriptedTransport(map[int]step{
			0: {delay: 60 * time.Millisecond, err: errPrimary},
			1: {hang: true},
		})
		policy := newRecordingPolicy(20*time.Millisecond, 1)
		d := NewDispatcher[string, string](policy, nil)

		_, err := d.Dispatch(context.Background(), "req", transport.issue)

		require.ErrorIs(t, err, errPrimary)
		assert.Eventually(t, func() bool {
			return transport.cancelled.Load() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, policy.recorded())
	})

	t.Run("given primary panics, then dispatch fails with attempt panicked", func(t *testing.T) {
		transport := newScriptedTransport(map[int]step{0: {panicWith: "kaboom"}})
		d := NewDispatcher[string, string](newRecordingPolicy(time.Second, 1), nil)

		_, err := d.Dispatch(context.Background(), "req", transport.issue)

		require.ErrorIs(t, err, ErrAttemptPanicked)
		assert.Contains(t, err.Error(), "kaboom")
	})
}

func TestDispatcher_Dispatch_SimultaneousHedges(t *testing.T) {
	transport := newScriptedTransport(map[int]step{
		0: {hang: true},
		1: {hang: true},
		2: {hang: true},
		3: {delay: 30 * time.Millisecond},
	})
	d := NewDispatcher[string, string](newRecordingPolicy(40*time.Millisecond, 3), nil)

	got, err := d.Dispatch(context.Background(), "req", transport.issue)
	require.NoError(t, err)
	assert.Equal(t, "req#3", got)

	primary := transport.start(0)
	for i := 1; i <= 3; i++ {
		start := transport.start(i)
		assert.GreaterOrEqual(t, start.Sub(primary), 40*time.Millisecond, "hedge %d fired early", i)
		assert.Less(t, start.Sub(transport.start(1)).Abs(), 20*time.Millisecond, "hedge %d staggered", i)
	}

	assert.Eventually(t, func() bool {
		return transport.cancelled.Load() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_Dispatch_ContextCancellation(t *testing.T) {
	t.Run("given caller cancels, then every attempt is cancelled", func(t *testing.T) {
		transport := newScriptedTransport(map[int]step{
			0: {hang: true},
			1: {hang: true},
		})
		policy := newRecordingPolicy(10*time.Millisecond, 1)
		d := NewDispatcher[string, string](policy, nil)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(60*time.Millisecond, cancel)

		_, err := d.Dispatch(ctx, "req", transport.issue)

		require.ErrorIs(t, err, context.Canceled)
		assert.Eventually(t, func() bool {
			return transport.cancelled.Load() == 2
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, policy.recorded())
	})

	t.Run("given already cancelled context, then issues nothing", func(t *testing.T) {
		transport := newScriptedTransport(nil)
		d := NewDispatcher[string, string](newRecordingPolicy(0, 1), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := d.Dispatch(ctx, "req", transport.issue)

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), transport.calls.Load())
	})
}

func TestDispatcher_Dispatch_ListenerIsolation(t *testing.T) {
	t.Run("given panicking listener, then next listener still records", func(t *testing.T) {
		transport := newScriptedTransport(map[int]step{0: {delay: time.Millisecond}})
		policy := newRecordingPolicy(time.Second, 1)
		after := &recordingListener{}
		panicking := ListenerFunc[string, string](func(context.Context, Outcome[string, string]) {
			panic("listener boom")
		})
		d := NewDispatcher[string, string](policy, []Listener[string, string]{panicking, after})

		got, err := d.Dispatch(context.Background(), "req", transport.issue)

		require.NoError(t, err)
		assert.Equal(t, "req#0", got)
		assert.Len(t, policy.recorded(), 1)
		assert.Len(t, after.recorded(), 1)
	})

	t.Run("given panicking policy record, then listeners still record", func(t *testing.T) {
		transport := newScriptedTransport(map[int]step{0: {delay: time.Millisecond}})
		listener := &recordingListener{}
		policy := &panickingPolicy{FixedPolicy: FixedPolicy[string, string]{Delay: time.Second, MaxHedges: 1}}
		d := NewDispatcher[string, string](policy, []Listener[string, string]{listener})

		_, err := d.Dispatch(context.Background(), "req", transport.issue)

		require.NoError(t, err)
		assert.Len(t, listener.recorded(), 1)
	})
}

type panickingPolicy struct {
	FixedPolicy[string, string]
}

func (p *panickingPolicy) Record(context.Context, Outcome[string, string]) {
	panic("policy boom")
}

func TestDispatcher_Dispatch_Discard(t *testing.T) {
	transport := newScriptedTransport(map[int]step{
		0: {delay: 80 * time.Millisecond, ignoreCtx: true},
		1: {delay: 5 * time.Millisecond},
	})

	discarded := make(chan string, 1)
	d := NewDispatcher[string, string](newRecordingPolicy(10*time.Millisecond, 1), nil,
		WithDiscard(func(resp string) { discarded <- resp }),
	)

	got, err := d.Dispatch(context.Background(), "req", transport.issue)
	require.NoError(t, err)
	assert.Equal(t, "req#1", got)

	select {
	case resp := <-discarded:
		assert.Equal(t, "req#0", resp)
	case <-time.After(time.Second):
		t.Fatal("late primary response was not discarded")
	}
}

func TestDispatcher_DispatchResult_Release(t *testing.T) {
	var attemptCtx context.Context
	d := NewDispatcher[string, string](newRecordingPolicy(time.Second, 1), nil)

	res, err := d.DispatchResult(context.Background(), "req",
		func(ctx context.Context, req string, _ Attempt) (string, error) {
			attemptCtx = ctx
			return req, nil
		},
	)
	require.NoError(t, err)
	require.NoError(t, attemptCtx.Err(), "winner context must stay live until release")

	res.Release()
	assert.ErrorIs(t, attemptCtx.Err(), context.Canceled)

	res.Release()
	var nilResult *Result[string, string]
	nilResult.Release()
}

func TestDispatcher_Dispatch_Budget(t *testing.T) {
	tests := []struct {
		name      string
		budget    Budget
		wantCalls int32
		wantResp  string
	}{
		{
			name:      "given exhausted concurrency budget, then hedge is skipped",
			budget:    NewConcurrencyBudget(0),
			wantCalls: 1,
			wantResp:  "req#0",
		},
		{
			name:      "given exhausted rate budget, then hedge is skipped",
			budget:    NewRateBudget(0, 0),
			wantCalls: 1,
			wantResp:  "req#0",
		},
		{
			name:      "given available budget, then hedge is sent",
			budget:    NewConcurrencyBudget(1),
			wantCalls: 2,
			wantResp:  "req#1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newScriptedTransport(map[int]step{
				0: {delay: 80 * time.Millisecond},
				1: {delay: 5 * time.Millisecond},
			})
			d := NewDispatcher[string, string](newRecordingPolicy(10*time.Millisecond, 1), nil,
				WithBudget(tt.budget),
			)

			got, err := d.Dispatch(context.Background(), "req", transport.issue)

			require.NoError(t, err)
			assert.Equal(t, tt.wantResp, got)
			assert.Equal(t, tt.wantCalls, transport.calls.Load())
		})
	}
}

func TestNewDispatcher_NilPolicy(t *testing.T) {
	assert.Panics(t, func() {
		NewDispatcher[string, string](nil, nil)
	})
}
