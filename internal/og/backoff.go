package og

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff bounds the delay between attempts of one exchange call. Every
// attempt reuses the order's client id, so the delay only paces the exchange.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	// Jitter spreads each delay by +/- this fraction (0-1).
	Jitter float64
}

// DefaultBackoff is used when the execution config leaves backoff unset.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

func (b Backoff) withDefaults() Backoff {
	if b.Min <= 0 {
		b.Min = 100 * time.Millisecond
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	if b.Factor <= 1 {
		b.Factor = 2.0
	}
	b.Jitter = math.Min(math.Max(b.Jitter, 0), 1)
	return b
}

// Next returns the delay before retry number attempt (1-based):
// Min*Factor^(attempt-1), capped at Max, then jittered.
func (b Backoff) Next(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(b.Min) * math.Pow(b.Factor, float64(attempt-1))
	if math.IsInf(wait, 0) || wait > float64(b.Max) {
		wait = float64(b.Max)
	}
	if b.Jitter > 0 {
		wait += (rand.Float64()*2 - 1) * wait * b.Jitter
	}
	return time.Duration(wait)
}

// Retry runs fn up to attempts times, waiting Next between failures. It
// returns nil on the first success, the last error once attempts run out, or
// the context error if ctx ends while waiting.
func (b Backoff) Retry(ctx context.Context, attempts int, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, b.Next(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
