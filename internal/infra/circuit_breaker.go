package infra

import (
	"log/slog"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // passing traffic
	StateOpen                  // refusing traffic
	StateHalfOpen              // probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// CircuitBreakerConfig sets the trip and recovery thresholds.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	Timeout          time.Duration // open duration before probing
}

// DefaultCircuitBreakerConfig returns the thresholds used for venue calls.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker isolates a flapping upstream: after FailureThreshold
// consecutive failures it refuses calls for Timeout, then lets probes
// through until SuccessThreshold of them succeed. Safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time // swappable in tests

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose timeout
// has elapsed moves to half-open and admits the probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) > cb.cfg.Timeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			slog.Info("Circuit breaker probing upstream", "name", cb.cfg.Name)
		}
	}
	return cb.state != StateOpen
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			slog.Info("Circuit breaker closed, upstream recovered", "name", cb.cfg.Name)
		}
	}
}

// RecordFailure notes a failed call, tripping the breaker at the threshold.
// A half-open failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip("failure threshold reached")
		}
	case StateHalfOpen:
		cb.trip("probe failed")
	}
}

// trip opens the breaker. Caller holds the lock.
func (cb *CircuitBreaker) trip(why string) {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.successes = 0
	slog.Warn("Circuit breaker open",
		"name", cb.cfg.Name, "reason", why, "failures", cb.failures)
}

// GetState returns the current position for monitoring.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed, for operator intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	slog.Info("Circuit breaker reset", "name", cb.cfg.Name)
}
