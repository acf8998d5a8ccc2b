package util

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 2, time.Minute, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if !cb.CanExecute() {
		t.Fatalf("breaker opened before threshold")
	}
	cb.RecordFailure()
	if cb.CanExecute() {
		t.Fatalf("breaker should be open after threshold")
	}

	now = now.Add(2 * time.Minute)
	if got := cb.State(); got != CircuitStateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}

	cb.RecordFailure()
	if cb.CanExecute() {
		t.Fatalf("failed probe should reopen breaker")
	}

	now = now.Add(2 * time.Minute)
	cb.RecordSuccess()
	if got := cb.State(); got != CircuitStateClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
}
