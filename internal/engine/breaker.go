package engine

import (
	"sync"
	"time"
)

// BreakerState is the state of the remote circuit.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // remote calls flow through
	BreakerOpen                         // remote calls are skipped
	BreakerHalfOpen                     // one trial call allowed
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker trips after threshold consecutive remote failures. While open,
// the provider goes straight to the local scorer. After openDuration one
// trial call is let through.
type Breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastFailure  time.Time
	threshold    int
	openDuration time.Duration
	now          func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive arguments select the
// defaults (5 failures, 30s).
func NewBreaker(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		threshold:    threshold,
		openDuration: openDuration,
		now:          time.Now,
	}
}

// Allow reports whether a remote call should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.openDuration {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		return false // trial call in flight
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure counts a failure and trips the circuit when the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// RecordCanceled releases a call that ended without a verdict. A half-open
// trial call goes back to open with its original failure time, so the next
// Allow lets another trial call through.
func (b *Breaker) RecordCanceled() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
