package privacy

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState is the current state of a breaker.
type CircuitBreakerState string

const (
	// BreakerClosed allows requests through normally.
	BreakerClosed CircuitBreakerState = "closed"

	// BreakerOpen blocks requests after too many failures.
	BreakerOpen CircuitBreakerState = "open"

	// BreakerHalfOpen is testing whether the target recovered.
	BreakerHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreaker guards the gossip send path against a dead or
// overloaded peer. Consecutive failures open the breaker and sends
// fail fast; after resetTimeout one probe is allowed through, and its
// outcome decides between closing and re-opening.
//
// Used per-hop by the circuit builder so a rotten relay does not soak
// up handshake retries.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        CircuitBreakerState
	mu           sync.Mutex
}

// NewCircuitBreaker creates a closed breaker that opens after
// maxFailures consecutive failures and probes again after
// resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = BreakerHalfOpen
			log.Debug("circuit breaker transitioning to half-open")
			return nil
		}
		return fmt.Errorf("privacy: circuit breaker is open (last failure %v ago)",
			time.Since(cb.lastFailure).Round(time.Second))

	case BreakerHalfOpen, BreakerClosed:
		return nil

	default:
		return fmt.Errorf("privacy: circuit breaker in unknown state: %s", cb.state)
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case BreakerClosed:
		// maxFailures 0 means never open automatically.
		if cb.maxFailures > 0 && cb.failures >= cb.maxFailures {
			cb.state = BreakerOpen
			log.Debugf("circuit breaker opened after %d failures", cb.failures)
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		log.Debug("circuit breaker re-opened after half-open failure")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerClosed
		cb.failures = 0
		log.Debug("circuit breaker closed after successful probe")
	case BreakerClosed:
		cb.failures = 0
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen reports whether the breaker is open.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == BreakerOpen }

// IsClosed reports whether the breaker is closed.
func (cb *CircuitBreaker) IsClosed() bool { return cb.State() == BreakerClosed }

// IsHalfOpen reports whether the breaker is probing.
func (cb *CircuitBreaker) IsHalfOpen() bool { return cb.State() == BreakerHalfOpen }

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker closed with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
}

// String returns a diagnostic summary.
func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker{state=%s, failures=%d/%d, lastFailure=%v}",
		cb.state, cb.failures, cb.maxFailures,
		time.Since(cb.lastFailure).Round(time.Second))
}
