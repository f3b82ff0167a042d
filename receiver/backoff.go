package receiver

import "time"

// Backoff grows the reconnect delay linearly with the attempt number and
// holds it at Base*MaxAttempts from then on.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// Delay returns the pause before reconnect attempt number attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		attempt = b.MaxAttempts
	}
	return b.Base * time.Duration(attempt)
}
