// Package breaker implements a circuit breaker for the inference endpoint.
package breaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	// StateClosed allows all calls.
	StateClosed State = iota
	// StateOpen short-circuits all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows exactly one trial call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive failures against the inference endpoint and
// short-circuits new calls for a cooldown window once the threshold is
// crossed. Safe for concurrent use.
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	threshold int
	cooldown  time.Duration

	now func() time.Time
}

// New creates a Breaker that opens after threshold consecutive failures and
// stays open for the cooldown window.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may be attempted. While open it returns false
// until the cooldown elapses, then transitions to half_open and admits exactly
// one trial call; further callers are rejected until the trial resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the failure count. A successful half_open trial closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.trialInFlight = false
	}
}

// ReleaseTrial frees the half_open trial slot without recording an outcome,
// for calls admitted by Allow that end without proving endpoint health
// (caller-side cancellation, or an answer that fails schema validation). The
// next Allow may admit a fresh trial. No-op in any other state.
func (b *Breaker) ReleaseTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordFailure increments the failure count. Crossing the threshold, or any
// failure during a half_open trial, opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.threshold {
			b.open()
		}
	case StateHalfOpen:
		b.open()
	case StateOpen:
		b.openedAt = b.now()
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trialInFlight = false
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
