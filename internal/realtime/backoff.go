package realtime

import "time"

// Backoff computes the delay before reconnect attempt n (1-based):
// Min doubled per attempt, capped at Max.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoff is the reconnect delay strategy used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{Min: time.Second, Max: 30 * time.Second}
}

// Delay returns the backoff delay for the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Min
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
