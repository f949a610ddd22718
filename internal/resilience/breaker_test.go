package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("ohlcv", BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour, SuccessThreshold: 2})
	calls := 0
	fail := func() error {
		calls++
		return errors.New("boom")
	}

	for i := 0; i < 3; i++ {
		if err := b.Call(fail); err == nil {
			t.Fatalf("call %d: expected failure, got nil", i+1)
		}
	}

	err := b.Call(fail)
	if err == nil {
		t.Fatalf("call 4: expected circuit_open, got nil")
	}
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("call 4: expected *ErrCircuitOpen, got %T: %v", err, err)
	}
	if calls != 3 {
		t.Errorf("expected the stub to be invoked exactly 3 times, got %d", calls)
	}
	if got := b.Stats().State; got != StateOpen {
		t.Errorf("expected state OPEN, got %s", got)
	}
}

func TestBreakerHalfOpenAdmitsOneTrialAfterRecovery(t *testing.T) {
	b := NewBreaker("oi", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 1})
	_ = b.Call(func() error { return errors.New("boom") })
	if got := b.Stats().State; got != StateOpen {
		t.Fatalf("expected OPEN after first failure, got %s", got)
	}

	time.Sleep(20 * time.Millisecond)

	invoked := false
	err := b.Call(func() error { invoked = true; return nil })
	if err != nil {
		t.Fatalf("expected trial call to succeed, got %v", err)
	}
	if !invoked {
		t.Fatalf("expected the trial call to invoke the wrapped function")
	}
	if got := b.Stats().State; got != StateClosed {
		t.Errorf("expected CLOSED after success_threshold successes, got %s", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("funding", BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 2})
	_ = b.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := b.Call(func() error { return errors.New("still failing") })
	if err == nil {
		t.Fatalf("expected trial call to fail")
	}
	if got := b.Stats().State; got != StateOpen {
		t.Errorf("expected re-OPEN after half-open failure, got %s", got)
	}
}

func TestRegistryGetIsStablePerName(t *testing.T) {
	r := NewRegistry(EndpointBreakerConfig())
	a := r.Get("depth")
	b := r.Get("depth")
	if a != b {
		t.Fatalf("expected Get to return the same breaker instance for the same name")
	}
	other := r.Get("funding")
	if other == a {
		t.Fatalf("expected distinct breakers for distinct endpoint names")
	}
}
