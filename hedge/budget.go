package hedge

import (
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Budget limits the number of hedges a dispatcher may issue.
//
// TryAcquire never blocks. When ok is true the caller must call release once
// the hedge attempt has finished.
type Budget interface {
	TryAcquire() (release func(), ok bool)
}

// ConcurrencyBudget caps the number of hedge attempts in flight at once.
type ConcurrencyBudget struct {
	sem *semaphore.Weighted
}

// NewConcurrencyBudget returns a budget allowing at most n concurrent hedges.
//
// Example:
//
//	budget := hedge.NewConcurrencyBudget(16)
func NewConcurrencyBudget(n int64) *ConcurrencyBudget {
	if n < 0 {
		n = 0
	}
	return &ConcurrencyBudget{sem: semaphore.NewWeighted(n)}
}

// TryAcquire implements Budget.
func (b *ConcurrencyBudget) TryAcquire() (func(), bool) {
	if !b.sem.TryAcquire(1) {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.sem.Release(1) })
	}, true
}

// RateBudget caps the rate at which hedges are issued using a token bucket.
//
// This is the usual way to keep the extra load of hedging to a few percent
// of traffic: size perSecond to a fraction of the expected request rate.
type RateBudget struct {
	limiter *rate.Limiter
}

// NewRateBudget returns a budget refilling perSecond tokens per second up to
// burst.
//
// Example:
//
//	// At most 5 hedges per second, bursting to 10
//	budget := hedge.NewRateBudget(5, 10)
func NewRateBudget(perSecond float64, burst int) *RateBudget {
	return &RateBudget{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// TryAcquire implements Budget. Tokens are not returned on release.
func (b *RateBudget) TryAcquire() (func(), bool) {
	if !b.limiter.Allow() {
		return nil, false
	}
	return func() {}, true
}
