package sync

import (
	"context"
	"time"
)

// BackoffPolicy computes exponential delays between batch attempts
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Next returns the delay following current, capped at Max
func (p BackoffPolicy) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	// Overflow or a shrinking multiplier both fall back to the cap
	if next > p.Max || next <= 0 {
		return p.Max
	}
	return next
}

// Delays returns the first n delays of the sequence: Initial, Initial*Multiplier, ...
func (p BackoffPolicy) Delays(n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	delays := make([]time.Duration, n)
	d := p.Initial
	if d > p.Max {
		d = p.Max
	}
	for i := range delays {
		delays[i] = d
		d = p.Next(d)
	}
	return delays
}

// BatchCount returns how many batches of size b are needed for n actions
func BatchCount(n, b int) int {
	if n <= 0 || b <= 0 {
		return 0
	}
	return (n + b - 1) / b
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
