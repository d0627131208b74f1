// Package retry implements exponential backoff with jitter and a
// three-state circuit breaker, shared by the email subsystem and the DNS
// transient-retry path.
package retry

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Breaker.Call when the circuit is open and
// the recovery timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("retry: circuit breaker is open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig mirrors the defaults used for outbound email.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
}

// Breaker is a three-state circuit breaker guarding calls to a failing
// dependency: Closed passes calls through, Open short-circuits them without
// invoking the wrapped function, HalfOpen allows exactly one probe call to
// decide whether to close again.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state           State
	failureCount    int
	lastFailureTime time.Time
}

// NewBreaker builds a Breaker starting in the Closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		state:            Closed,
	}
}

// Call invokes fn through the breaker. If the breaker is Open and the
// recovery timeout has not elapsed, fn is never invoked and ErrCircuitOpen
// is returned. A single HalfOpen probe call is allowed once the timeout has
// elapsed; its outcome decides whether the breaker closes or reopens.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// allow reports whether a call may proceed, transitioning Open->HalfOpen
// when the recovery timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		return false
	}
	if b.state != Open {
		return true
	}
	if b.shouldAttemptReset() {
		b.state = HalfOpen
		return true
	}
	return false
}

func (b *Breaker) shouldAttemptReset() bool {
	if b.lastFailureTime.IsZero() {
		return false
	}
	return time.Since(b.lastFailureTime) >= b.recoveryTimeout
}

func (b *Breaker) onSuccess() {
	if b.state == HalfOpen {
		b.state = Closed
	}
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	if b.failureCount >= b.failureThreshold {
		b.state = Open
	} else if b.state == HalfOpen {
		b.state = Open
	}
}

// CurrentState returns the breaker's current state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to Closed, clearing failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}
