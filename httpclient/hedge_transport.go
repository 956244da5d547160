package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/hedge-go/hedge"
)

// Compile-time interface check.
var _ http.RoundTripper = (*hedgeTransport)(nil)

// hedgeTransport races clones of a request through next using a
// hedge.Dispatcher.
type hedgeTransport struct {
	next       http.RoundTripper
	dispatcher *hedge.Dispatcher[*http.Request, *http.Response]
	tracer     trace.Tracer
	attrs      []attribute.KeyValue
}

// newHedgeTransport creates a new hedge transport wrapper. It returns next
// unchanged when hedging is disabled.
func newHedgeTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	policy := cfg.policy()
	if policy == nil {
		return next
	}

	opts := []hedge.Option{
		hedge.WithName(cfg.ServiceName),
		hedge.WithLogger(cfg.Logger),
		hedge.WithClock(cfg.Clock),
		hedge.WithMeterProvider(cfg.MeterProvider),
		hedge.WithDiscard(drainAndClose),
	}
	if cfg.HedgeBudget != nil {
		opts = append(opts, hedge.WithBudget(cfg.HedgeBudget))
	}

	return &hedgeTransport{
		next:       next,
		dispatcher: hedge.NewDispatcher(policy, cfg.HedgeListeners, opts...),
		tracer:     cfg.Tracer,
		attrs:      cfg.baseAttributes(),
	}
}

// RoundTrip implements http.RoundTripper with hedged requests.
//
// Requests the policy declines pass straight through. For the rest the body
// is buffered once and replayed into every attempt.
func (t *hedgeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.dispatcher.Policy().ShouldHedge(req) {
		return t.next.RoundTrip(req)
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	ctx, span := t.tracer.Start(req.Context(), "HTTP "+req.Method+" hedged",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(t.attrs...),
		trace.WithAttributes(attribute.String("hedge.dispatch_id", uuid.NewString())),
	)
	defer span.End()

	issue := func(ctx context.Context, r *http.Request, a hedge.Attempt) (*http.Response, error) {
		if a.IsHedge() {
			span.AddEvent("hedge.fired", trace.WithAttributes(attribute.Int("hedge.index", a.HedgeIndex)))
		}

		clone := r.Clone(withAttempt(ctx, a))
		if body != nil {
			clone.Body = io.NopCloser(bytes.NewReader(body))
			clone.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		}
		return t.next.RoundTrip(clone)
	}

	res, err := t.dispatcher.DispatchResult(ctx, req, issue)
	if err != nil {
		setSpanError(span, err, classifyError(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("hedge.index", res.HedgeIndex),
		attribute.Bool("hedge.won_by_hedge", res.IsHedge()),
	)

	resp := res.Response
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		res.Release()
		return resp, nil
	}

	// The winner's context must outlive RoundTrip until the body is read.
	resp.Body = &releaseOnClose{ReadCloser: resp.Body, release: res.Release}
	return resp, nil
}

// bufferBody reads the request body so it can be replayed. It returns nil
// for requests without a body.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// releaseOnClose cancels the winning attempt's context once the caller
// closes the response body.
type releaseOnClose struct {
	io.ReadCloser

	once    sync.Once
	release func()
}

func (r *releaseOnClose) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(r.release)
	return err
}

// drainAndClose releases the connection held by a losing response.
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

type attemptKey struct{}

func withAttempt(ctx context.Context, a hedge.Attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

// AttemptFromContext returns the hedge attempt an outgoing request belongs
// to. It is available to transports below the hedging layer, such as one
// passed to NewWithTransport.
//
// Example:
//
//	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
//	    if a, ok := httpclient.AttemptFromContext(req.Context()); ok && a.IsHedge() {
//	        req.Header.Set("X-Hedge-Index", strconv.Itoa(a.HedgeIndex))
//	    }
//	    return http.DefaultTransport.RoundTrip(req)
//	})
func AttemptFromContext(ctx context.Context) (hedge.Attempt, bool) {
	a, ok := ctx.Value(attemptKey{}).(hedge.Attempt)
	return a, ok
}
