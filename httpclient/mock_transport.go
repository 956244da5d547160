package httpclient

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MockTransport provides a configurable http.RoundTripper for testing.
// It stubs responses by arrival order, which makes hedge races scriptable:
// the first call is the primary and later calls are hedges.
//
// Example:
//
//	mock := httpclient.NewMockTransport().
//	    StubCall(0, httpclient.MockCall{Hang: true}).                      // primary stalls
//	    StubCall(1, httpclient.MockCall{StatusCode: 200, Body: `{"ok":1}`}) // hedge wins
//
//	client := httpclient.New(
//	    httpclient.WithMockTransport(mock),
//	    httpclient.WithHedging(httpclient.HedgeConfig{Delay: 10 * time.Millisecond, MaxHedges: 1}),
//	)
type MockTransport struct {
	mu          sync.Mutex
	calls       map[int]MockCall
	fallback    MockCall
	hasFallback bool
	requests    []*http.Request
	cancelled   int
	requestHook func(*http.Request)
}

// MockCall scripts the behavior of one call.
type MockCall struct {
	// Delay is how long the call takes before responding. The call returns
	// the context error if the request is cancelled first.
	Delay time.Duration

	// StatusCode of the response. Default: 200
	StatusCode int

	// Body of the response.
	Body string

	// Err fails the call after Delay.
	Err error

	// Hang blocks until the request is cancelled.
	Hang bool
}

// NewMockTransport creates a new MockTransport for testing.
func NewMockTransport() *MockTransport {
	return &MockTransport{calls: make(map[int]MockCall)}
}

// StubResponse stubs every call without a specific stub to return the
// given response.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	return m.StubDefault(MockCall{StatusCode: statusCode, Body: body})
}

// StubError stubs every call without a specific stub to return err.
func (m *MockTransport) StubError(err error) *MockTransport {
	return m.StubDefault(MockCall{Err: err})
}

// StubDefault scripts every call without a specific stub.
func (m *MockTransport) StubDefault(call MockCall) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = call
	m.hasFallback = true
	return m
}

// StubCall scripts the n-th call, counting from 0 in arrival order.
func (m *MockTransport) StubCall(n int, call MockCall) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[n] = call
	return m
}

// OnRequest sets a hook that is called for each request.
// Useful for assertions or capturing request details.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	hook := m.requestHook
	call, ok := m.calls[n]
	if !ok && m.hasFallback {
		call, ok = m.fallback, true
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if !ok {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}

	if err := m.wait(req, call); err != nil {
		return nil, err
	}
	if call.Err != nil {
		return nil, call.Err
	}

	status := call.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(call.Body)),
		ContentLength: int64(len(call.Body)),
		Request:       req,
	}, nil
}

// wait blocks for the scripted delay, or until the request is cancelled.
func (m *MockTransport) wait(req *http.Request, call MockCall) error {
	ctx := req.Context()

	var timerC <-chan time.Time
	switch {
	case call.Hang:
	case call.Delay > 0:
		timer := time.NewTimer(call.Delay)
		defer timer.Stop()
		timerC = timer.C
	default:
		return nil
	}

	select {
	case <-timerC:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.cancelled++
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Requests returns all requests made through this transport.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount returns the number of requests made.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CancelledCount returns the number of calls cancelled while waiting.
func (m *MockTransport) CancelledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.cancelled = 0
	m.calls = make(map[int]MockCall)
	m.fallback = MockCall{}
	m.hasFallback = false
	m.requestHook = nil
}
