package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterExhaustingFailures(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 5, InitialDelay: 2 * time.Millisecond, MaxDelay: time.Second, Base: 2, Jitter: false})

	attempts := 0
	start := time.Now()
	err := r.Do(context.Background(), func() error {
		attempts++
		if attempts < 5 {
			return Classify(KindTimeout, errors.New("timeout"))
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", attempts)
	}
	// 2+4+8+16 = 30ms of sleeping before the 5th attempt succeeds.
	if elapsed < 25*time.Millisecond {
		t.Errorf("expected at least ~30ms of backoff, elapsed %s", elapsed)
	}
}

func TestRetryPropagatesNonRetryableImmediately(t *testing.T) {
	r := NewRetry(DefaultRetryConfig())
	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return Classify(KindValidation, errors.New("bad record"))
	})
	if err == nil {
		t.Fatalf("expected validation error to propagate")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable kind, got %d", attempts)
	}
}

func TestRetryDoesNotConsumeBudgetOnCircuitOpen(t *testing.T) {
	r := NewRetry(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Base: 2})
	attempts := 0
	err := r.Do(context.Background(), func() error {
		attempts++
		return &ErrCircuitOpen{Breaker: "ohlcv"}
	})
	if err == nil {
		t.Fatalf("expected circuit_open to propagate")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt when the breaker rejects, got %d", attempts)
	}
}
