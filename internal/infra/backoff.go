package infra

import "time"

// Backoff produces exponential reconnect delays: Base doubling per attempt,
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff paces stream and HTTP reconnects.
var DefaultBackoff = Backoff{Base: time.Second, Max: time.Minute}

// Delay returns the wait before the given retry attempt, counted from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return b.Base
	}
	// Past 62 doublings the shift itself overflows int64.
	if attempt > 62 {
		return b.Max
	}
	d := b.Base << uint(attempt)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
