package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 3.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps every wait.
	MaxBackoff time.Duration
	// BackoffFactor multiplies the wait after each failure.
	BackoffFactor float64
	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64
	// RetryIf reports whether err is worth another attempt.
	RetryIf func(err error) bool
	// OnRetry runs before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig returns three attempts starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2,
		Jitter:         0.1,
	}
}

// Retryable is the default RetryIf: context errors are final.
func Retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.RetryIf == nil {
		c.RetryIf = Retryable
	}
	return c
}

// Retry calls fn until it succeeds, RetryIf rejects the error, attempts run
// out or ctx ends. The last error from fn is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	wait := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || !cfg.RetryIf(err) {
			return zero, err
		}

		sleep := jitter(wait, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		wait = min(time.Duration(float64(wait)*cfg.BackoffFactor), cfg.MaxBackoff)
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	spread := float64(d) * frac * (2*rand.Float64() - 1)
	if out := time.Duration(float64(d) + spread); out > 0 {
		return out
	}
	return d
}
