package gateway

import "time"

// RetryPolicy is the explicit retry contract for network-class
// failures: a fixed delay between attempts and a hard attempt cap.
// 4xx responses are never retried regardless of policy.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy allows exactly one transient retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: 500 * time.Millisecond}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
