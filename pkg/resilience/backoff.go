package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the wait after a failed attempt (0-indexed)
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles (or multiplies by Factor) from Base up to Max, then
// spreads the result by ±Jitter so clients retrying together drift apart.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// VerifyBackoff is the schedule for re-checking an order the user returned
// with: about 2s, 4s, 8s, 16s, then 30s.
func VerifyBackoff() Exponential {
	return Exponential{
		Base:   2 * time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.1,
	}
}

// Delay implements Backoff
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := math.Min(float64(e.Base)*math.Pow(e.Factor, float64(attempt)), float64(e.Max))
	if e.Jitter > 0 {
		d += d * e.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Constant waits the same duration after every attempt
type Constant time.Duration

// Delay implements Backoff
func (c Constant) Delay(int) time.Duration {
	return time.Duration(c)
}

// Retry calls fn until it reports done, attempts run out, or ctx ends.
// The error from the last call is returned; ctx ending returns ctx.Err().
func Retry(ctx context.Context, backoff Backoff, attempts int, fn func(attempt int) (done bool, err error)) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		var done bool
		if done, err = fn(attempt); done || attempt == attempts-1 {
			return err
		}

		timer := time.NewTimer(backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
