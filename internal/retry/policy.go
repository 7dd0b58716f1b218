// Package retry holds the backoff policies and the clock abstraction that
// make timer-driven behaviour testable without real time.
package retry

import "time"

// Policy is a bounded backoff schedule. Delays is indexed by attempt
// number; attempts past the end of the table reuse the final delay.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given attempt (0-based). A policy with
// no delays always returns zero.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	return p.Delays[attempt]
}

// Exhausted reports whether the given number of completed attempts has
// used up the budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// MovePolicy is the per-move retry schedule for transient send failures.
func MovePolicy() Policy {
	return Policy{
		Delays:      []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second},
		MaxAttempts: 3,
	}
}

// ReconnectPolicy is the probe backoff schedule after a connection loss.
func ReconnectPolicy() Policy {
	return Policy{
		Delays: []time.Duration{
			1 * time.Second, 2 * time.Second, 5 * time.Second,
			10 * time.Second, 30 * time.Second,
		},
		MaxAttempts: 5,
	}
}
