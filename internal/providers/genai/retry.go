package genai

import (
	"context"
	"time"
)

// RetryPolicy bounds the automatic retries of transient failures.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
}

// DefaultRetryPolicy allows two retries at 1s and 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Base: time.Second, Factor: 2, Cap: 30 * time.Second}
}

// Delay is the wait before retry number attempt (zero based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
		if p.Cap > 0 && d >= float64(p.Cap) {
			return p.Cap
		}
	}
	if p.Cap > 0 && time.Duration(d) > p.Cap {
		return p.Cap
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
