// Package limiter provides admission control for calls to the inference
// endpoint: a token bucket bounding sustained throughput plus an independent
// ceiling on in-flight requests.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter gates outbound inference calls. Acquire blocks until both a rate
// token and a concurrency slot are available; it never fails except on
// context cancellation. Waiters are served in arrival order.
type Limiter struct {
	bucket *rate.Limiter
	slots  *semaphore.Weighted

	mu         sync.Mutex
	penaltyEnd time.Time
}

// New creates a Limiter issuing ratePerMinute tokens per minute (bucket
// capacity burst) with at most maxConcurrency requests in flight.
func New(ratePerMinute, burst, maxConcurrency int) *Limiter {
	if burst <= 0 {
		burst = ratePerMinute
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), burst),
		slots:  semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// Acquire blocks until a concurrency slot, any active penalty cooldown, and a
// rate token have all cleared, in that order. On cancellation the slot is
// released and the reserved token returned to the bucket.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	if err := l.waitPenalty(ctx); err != nil {
		l.slots.Release(1)
		return err
	}

	if err := l.bucket.Wait(ctx); err != nil {
		l.slots.Release(1)
		return err
	}

	return nil
}

// Release frees the concurrency slot taken by a successful Acquire. Tokens
// are not returned; a completed call consumed real upstream budget.
func (l *Limiter) Release() {
	l.slots.Release(1)
}

// Penalize imposes an extra cooldown before the next token is issued, in
// response to an upstream throttling signal. Callers already past Acquire
// (and cache hits, which never touch the limiter) are unaffected.
func (l *Limiter) Penalize(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(l.penaltyEnd) {
		l.penaltyEnd = until
	}
}

func (l *Limiter) waitPenalty(ctx context.Context) error {
	for {
		l.mu.Lock()
		wait := time.Until(l.penaltyEnd)
		l.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another Penalize may have extended the window.
		}
	}
}
