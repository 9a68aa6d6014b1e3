// Package papersources provides the discovery source adapters and the registry
// that fans a scan out across them.
package papersources

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter caps request frequency to a source and tracks the cooldown a
// source imposes after throttling us. It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	cooldownUntil time.Time
	now           func() time.Time
}

// NewRateLimiter creates a token bucket limiter with the given sustained rate
// and burst size.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		now:     time.Now,
	}
}

// Wait blocks until a request is allowed. It returns ErrCoolingDown
// immediately while a cooldown is active instead of sleeping through it.
// A wait that would outlive the context deadline fails without blocking.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if remaining := r.CooldownRemaining(); remaining > 0 {
		return &CooldownError{Remaining: remaining}
	}
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may be sent now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	if r.CooldownRemaining() > 0 {
		return false
	}
	return r.limiter.Allow()
}

// Penalize starts (or extends) a cooldown during which Wait fails fast.
func (r *RateLimiter) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(d)
	if until.After(r.cooldownUntil) {
		r.cooldownUntil = until
	}
}

// CooldownRemaining returns how long the current cooldown still lasts.
func (r *RateLimiter) CooldownRemaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cooldownUntil.IsZero() {
		return 0
	}
	remaining := r.cooldownUntil.Sub(r.now())
	if remaining <= 0 {
		r.cooldownUntil = time.Time{}
		return 0
	}
	return remaining
}

// SetRate updates the sustained rate while preserving the burst size.
func (r *RateLimiter) SetRate(ratePerSecond float64) {
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
}

// CooldownError is returned by Wait while the source is cooling down.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return "source cooling down for " + e.Remaining.Round(time.Millisecond).String()
}
