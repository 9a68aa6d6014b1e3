package papersources

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	t.Run("burst allows immediate requests", func(t *testing.T) {
		rl := NewRateLimiter(1, 3)

		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.True(t, rl.Allow())
		assert.False(t, rl.Allow())
	})

	t.Run("burst below one is raised to one", func(t *testing.T) {
		rl := NewRateLimiter(1, 0)
		assert.True(t, rl.Allow())
	})
}

func TestRateLimiter_Wait(t *testing.T) {
	t.Run("returns immediately with tokens available", func(t *testing.T) {
		rl := NewRateLimiter(100, 5)

		start := time.Now()
		require.NoError(t, rl.Wait(context.Background()))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("fails when wait would exceed deadline", func(t *testing.T) {
		rl := NewRateLimiter(0.1, 1)
		require.True(t, rl.Allow())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := rl.Wait(ctx)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 40*time.Millisecond, "limiter should not sleep past the deadline")
	})

	t.Run("cancelled context returns error", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		require.True(t, rl.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, rl.Wait(ctx))
	})
}

func TestRateLimiter_Cooldown(t *testing.T) {
	t.Run("penalize makes wait fail fast", func(t *testing.T) {
		rl := NewRateLimiter(100, 10)
		rl.Penalize(time.Minute)

		err := rl.Wait(context.Background())
		var cooldown *CooldownError
		require.True(t, errors.As(err, &cooldown))
		assert.Greater(t, cooldown.Remaining, 59*time.Second)
		assert.False(t, rl.Allow())
	})

	t.Run("cooldown expires", func(t *testing.T) {
		rl := NewRateLimiter(100, 10)
		now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return now }

		rl.Penalize(10 * time.Second)
		assert.Equal(t, 10*time.Second, rl.CooldownRemaining())

		now = now.Add(11 * time.Second)
		assert.Zero(t, rl.CooldownRemaining())
		assert.NoError(t, rl.Wait(context.Background()))
	})

	t.Run("shorter penalty does not shorten cooldown", func(t *testing.T) {
		rl := NewRateLimiter(100, 10)
		now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
		rl.now = func() time.Time { return now }

		rl.Penalize(time.Minute)
		rl.Penalize(time.Second)
		rl.Penalize(0)
		assert.Equal(t, time.Minute, rl.CooldownRemaining())
	})

	t.Run("concurrent use", func(t *testing.T) {
		rl := NewRateLimiter(1000, 100)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%5 == 0 {
					rl.Penalize(time.Millisecond)
				}
				_ = rl.Allow()
				_ = rl.CooldownRemaining()
			}(i)
		}
		wg.Wait()
	})
}

func TestRateLimiter_SetRate(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	rl.SetRate(1000)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow())
}
