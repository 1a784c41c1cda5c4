package backend

import (
	"context"
	"time"
)

// Backoff is the rate-limit retry policy of a client.
type Backoff struct {
	// Attempts is the total number of tries, including the first.
	Attempts   int
	Base       time.Duration
	Multiplier float64
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff tries three times, waiting 5s then 10s.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Base: 5 * time.Second, Multiplier: 2, Sleep: SleepContext}
}

// SleepContext blocks for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b Backoff) normalized() Backoff {
	if b.Attempts < 1 {
		b.Attempts = 1
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.Sleep == nil {
		b.Sleep = SleepContext
	}
	return b
}

// Delay returns the wait before retry number n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= b.Multiplier
	}
	return time.Duration(d)
}
