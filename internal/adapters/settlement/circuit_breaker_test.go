package settlement

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type transition struct{ from, to CircuitState }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock, *[]transition) {
	clock := &fakeClock{now: time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)}
	var seen []transition
	b := NewBreaker(cfg, func(from, to CircuitState) { seen = append(seen, transition{from, to}) })
	b.now = clock.Now
	b.since = clock.Now()
	return b, clock, &seen
}

func call(t *testing.T, b *Breaker, o Outcome) {
	t.Helper()
	done, err := b.Allow()
	require.NoError(t, err)
	done(o)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _, seen := newTestBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Second})

	call(t, b, Failure)
	call(t, b, Failure)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(2), b.ConsecutiveFailures())

	call(t, b, Failure)
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, []transition{{StateClosed, StateOpen}}, *seen)
}

func TestBreaker_SuccessAndIgnoredOutcomes(t *testing.T) {
	b, _, _ := newTestBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Second})

	call(t, b, Failure)
	call(t, b, Success)
	assert.Equal(t, uint32(0), b.ConsecutiveFailures())

	call(t, b, Failure)
	call(t, b, Ignored)
	assert.Equal(t, uint32(1), b.ConsecutiveFailures(), "ignored calls leave the run alone")
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name    string
		probe   Outcome
		want    CircuitState
		allowed bool
	}{
		{name: "probe succeeds", probe: Success, want: StateClosed, allowed: true},
		{name: "probe fails", probe: Failure, want: StateOpen, allowed: false},
		{name: "probe ignored", probe: Ignored, want: StateHalfOpen, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock, _ := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Minute, HalfOpenProbes: 1})
			call(t, b, Failure)

			clock.Advance(30 * time.Second)
			_, err := b.Allow()
			require.ErrorIs(t, err, ErrCircuitOpen)

			clock.Advance(30 * time.Second)
			done, err := b.Allow()
			require.NoError(t, err)
			assert.Equal(t, StateHalfOpen, b.State())

			_, err = b.Allow()
			assert.ErrorIs(t, err, ErrTooManyRequests, "one probe at a time")

			done(tt.probe)
			assert.Equal(t, tt.want, b.State())

			_, err = b.Allow()
			assert.Equal(t, tt.allowed, err == nil)
		})
	}
}

func TestBreaker_StaleReportDropped(t *testing.T) {
	b, _, _ := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})

	slow, err := b.Allow()
	require.NoError(t, err)
	call(t, b, Failure)
	require.Equal(t, StateOpen, b.State())

	// Finished after the circuit opened; must not close it
	slow(Success)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b, _, _ := newTestBreaker(BreakerConfig{Threshold: 2, Cooldown: time.Second})

	done, err := b.Allow()
	require.NoError(t, err)
	done(Failure)
	done(Failure)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Defaults(t *testing.T) {
	cfg := DefaultBreakerConfig()
	assert.Equal(t, uint32(5), cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)

	b := NewBreaker(BreakerConfig{}, nil)
	assert.Equal(t, uint32(1), b.cfg.Threshold)
	assert.Equal(t, uint32(1), b.cfg.HalfOpenProbes)
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

func TestBreaker_Concurrent(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 10, Cooldown: time.Second}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := b.Allow()
			if err == nil {
				done(Success)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}
