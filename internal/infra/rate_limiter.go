package infra

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket: capacity bounds the burst, rate refills
// tokens continuously. Safe for concurrent use.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a full bucket holding maxRequests tokens, refilled
// at perSecond.
func NewRateLimiter(maxRequests int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(maxRequests),
		capacity:   float64(maxRequests),
		rate:       perSecond,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available, then consumes it.
func (r *RateLimiter) Wait() {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return
		}
		// Sleep exactly the deficit, then re-check under the lock in case
		// another waiter took the refilled token first.
		wait := time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
		r.mu.Unlock()
		time.Sleep(wait)
	}
}

// TryAcquire consumes a token if one is available, without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// refill credits tokens for the time elapsed since the last call. Caller
// holds the lock.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.lastRefill).Seconds() * r.rate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
	r.lastRefill = now
}

// Pre-configured limiters for broker API endpoints. These pace raw HTTP/WS
// traffic; the per-minute order budget in the scheduler is a separate,
// stricter control.
var (
	orderLimiter      *RateLimiter
	accountLimiter    *RateLimiter
	marketDataLimiter *RateLimiter
	rateLimiterOnce   sync.Once
)

// GetOrderLimiter returns the rate limiter for order endpoints.
// Limit: 10 requests/second with burst of 5.
func GetOrderLimiter() *RateLimiter {
	rateLimiterOnce.Do(initBrokerLimiters)
	return orderLimiter
}

// GetAccountLimiter returns the rate limiter for account endpoints.
// Limit: 10 requests/second with burst of 5.
func GetAccountLimiter() *RateLimiter {
	rateLimiterOnce.Do(initBrokerLimiters)
	return accountLimiter
}

// GetMarketDataLimiter returns the rate limiter for market data endpoints.
// Limit: 20 requests/second with burst of 10.
func GetMarketDataLimiter() *RateLimiter {
	rateLimiterOnce.Do(initBrokerLimiters)
	return marketDataLimiter
}

func initBrokerLimiters() {
	// Conservative limits to avoid IP bans
	orderLimiter = NewRateLimiter(5, 10)       // 10 req/s, burst 5
	accountLimiter = NewRateLimiter(5, 10)     // 10 req/s, burst 5
	marketDataLimiter = NewRateLimiter(10, 20) // 20 req/s, burst 10
}
