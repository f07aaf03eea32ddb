package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_Delay(t *testing.T) {
	backoff := Exponential{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoff.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_JitterStaysInBounds(t *testing.T) {
	backoff := Exponential{Base: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.1}

	for i := 0; i < 200; i++ {
		d := backoff.Delay(1)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestVerifyBackoff(t *testing.T) {
	backoff := VerifyBackoff()

	first := backoff.Delay(0)
	assert.GreaterOrEqual(t, first, 1800*time.Millisecond)
	assert.LessOrEqual(t, first, 2200*time.Millisecond)

	capped := backoff.Delay(10)
	assert.GreaterOrEqual(t, capped, 27*time.Second)
	assert.LessOrEqual(t, capped, 33*time.Second)
}

func TestConstant(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, time.Second, Constant(time.Second).Delay(attempt))
	}
}

func TestRetry(t *testing.T) {
	errPending := errors.New("pending")

	t.Run("stops when done", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), Constant(time.Millisecond), 5, func(attempt int) (bool, error) {
			calls++
			if attempt < 2 {
				return false, errPending
			}
			return true, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), Constant(time.Millisecond), 3, func(int) (bool, error) {
			calls++
			return false, errPending
		})
		assert.ErrorIs(t, err, errPending)
		assert.Equal(t, 3, calls)
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Retry(ctx, Constant(time.Hour), 3, func(int) (bool, error) {
			calls++
			return false, errPending
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
