package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// breakerWithClock builds a breaker whose time is advanced manually.
func breakerWithClock(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Duration) {
	cb := NewCircuitBreaker(cfg)
	base := time.Unix(1700000000, 0)
	elapsed := new(time.Duration)
	cb.now = func() time.Time { return base.Add(*elapsed) }
	return cb, elapsed
}

func TestCircuitBreaker_ClosedPassesTraffic(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	assert.True(t, cb.Allow())
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb, _ := breakerWithClock(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.GetState(), "two failures must not trip a threshold of three")

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessClearsFailureStreak(t *testing.T) {
	cb, _ := breakerWithClock(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute,
	})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.GetState(), "threshold counts consecutive failures")
}

func TestCircuitBreaker_ProbesAfterTimeout(t *testing.T) {
	cb, elapsed := breakerWithClock(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 2, SuccessThreshold: 1, Timeout: 30 * time.Second,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	*elapsed = 31 * time.Second
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())
}

func TestCircuitBreaker_ClosesAfterProbeSuccesses(t *testing.T) {
	cb, elapsed := breakerWithClock(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 2, SuccessThreshold: 2, Timeout: 30 * time.Second,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	*elapsed = 31 * time.Second
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.GetState(), "one probe success of two required")
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, elapsed := breakerWithClock(CircuitBreakerConfig{
		Name: "test", FailureThreshold: 2, SuccessThreshold: 2, Timeout: 30 * time.Second,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	*elapsed = 31 * time.Second
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.Allow(), "reopening restarts the timeout")
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := breakerWithClock(DefaultCircuitBreakerConfig("test"))

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.True(t, cb.Allow())
}
