package core

import (
	"testing"
	"time"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewCircuitBreaker(3, 2, 5*time.Second)
	b.now = func() time.Time { return now }

	if !b.ShouldAllow() {
		t.Fatalf("closed breaker should allow")
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != CircuitClosed {
		t.Fatalf("opened before threshold")
	}
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("state=%s want open", b.State())
	}
	if b.ShouldAllow() {
		t.Fatalf("open breaker allowed traffic")
	}

	// After the reset timeout the breaker admits a probe.
	now = now.Add(5 * time.Second)
	if !b.ShouldAllow() {
		t.Fatalf("probe not admitted after reset timeout")
	}
	if b.State() != CircuitHalfOpen {
		t.Fatalf("state=%s want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != CircuitHalfOpen {
		t.Fatalf("closed after one success, want two")
	}
	b.RecordSuccess()
	if b.State() != CircuitClosed {
		t.Fatalf("state=%s want closed", b.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(2000, 0)
	b := NewCircuitBreaker(3, 2, 5*time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(5 * time.Second)
	if !b.ShouldAllow() {
		t.Fatalf("probe not admitted")
	}
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("state=%s want open after half-open failure", b.State())
	}

	// The prior success streak must not carry over.
	now = now.Add(5 * time.Second)
	b.ShouldAllow()
	b.RecordSuccess()
	if b.State() == CircuitClosed {
		t.Fatalf("closed with stale success count")
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	b := NewCircuitBreaker(1, 1, time.Minute)
	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("not open")
	}
	b.Reset()
	if b.State() != CircuitClosed || !b.ShouldAllow() {
		t.Fatalf("reset did not close the breaker")
	}
}
