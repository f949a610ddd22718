package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig parameterizes a Retry policy.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64 // exponential base, default 2.0
	Jitter       bool
}

// DefaultRetryConfig matches the spec's defaults (base 2.0, jitter on).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Base:         2.0,
		Jitter:       true,
	}
}

// Retry wraps a callable and retries it on retryable classified kinds. The
// fixed composition order for the Exchange Client is Retry(Breaker(call)):
// a Breaker rejection surfaces as KindCircuitOpen, which is non-retryable,
// so an open circuit is never thrashed by retries.
type Retry struct {
	cfg RetryConfig
}

// NewRetry constructs a Retry policy. Zero-valued fields fall back to
// DefaultRetryConfig.
func NewRetry(cfg RetryConfig) *Retry {
	d := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = d.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.Base <= 0 {
		cfg.Base = d.Base
	}
	return &Retry{cfg: cfg}
}

// baseDelay returns the wait before attempt k (0-indexed), before jitter is applied.
func (r *Retry) baseDelay(k int) time.Duration {
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Base, float64(k))
	if d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}
	return time.Duration(d)
}

// jitterFraction is the +/- fraction applied when Jitter is enabled.
const jitterFraction = 0.2

func (r *Retry) jitteredDelay(k int) time.Duration {
	base := r.baseDelay(k)
	if !r.cfg.Jitter {
		return base
	}
	spread := float64(base) * jitterFraction
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(base) + offset)
}

// Do runs fn, retrying on errors classified as retryable, up to MaxRetries
// additional attempts. Non-retryable errors (validation, circuit_open,
// exchange_client) propagate immediately without consuming retry budget.
// On exhaustion the last error is returned unchanged.
func (r *Retry) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !Retryable(KindOf(lastErr)) {
			return lastErr
		}
		if attempt == r.cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-time.After(r.jitteredDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
