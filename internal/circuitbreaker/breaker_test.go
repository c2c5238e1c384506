package circuitbreaker

import (
	"testing"
	"time"

	"github.com/djlord-it/easy-remind/internal/testutil"
)

const key = "email"

func newBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *testutil.FakeClock) {
	clock := testutil.NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordFailure(key)
	}
}

func TestAllow_UnknownKey_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if cb.State(key) != StateClosed {
		t.Errorf("State = %s, want closed", cb.State(key))
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	failN(cb, 2)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb, _ := newBreaker(3, 5*time.Second)
	failN(cb, 3)
	if err := cb.Allow(key); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if cb.State(key) != StateOpen {
		t.Errorf("State = %s, want open", cb.State(key))
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	cb, _ := newBreaker(1, time.Minute)
	cb.RecordFailure("sms")
	if err := cb.Allow("email"); err != nil {
		t.Fatalf("email should not be affected by sms failures, got %v", err)
	}
}

func TestAllow_HalfOpenSingleProbe(t *testing.T) {
	cb, clock := newBreaker(3, 10*time.Second)
	failN(cb, 3)

	clock.Advance(10 * time.Second)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected probe to be allowed, got %v", err)
	}
	if err := cb.Allow(key); err != ErrCircuitOpen {
		t.Fatal("expected ErrCircuitOpen while the probe is in flight")
	}
	if cb.State(key) != StateHalfOpen {
		t.Errorf("State = %s, want half_open", cb.State(key))
	}
}

func TestRecordSuccess_ClosesCircuit(t *testing.T) {
	cb, clock := newBreaker(2, time.Second)
	failN(cb, 2)
	clock.Advance(time.Second)
	_ = cb.Allow(key)

	cb.RecordSuccess(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected closed circuit after success, got %v", err)
	}

	// Counter was reset: one new failure does not reopen.
	cb.RecordFailure(key)
	if err := cb.Allow(key); err != nil {
		t.Fatalf("expected nil after single failure, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReopens(t *testing.T) {
	cb, clock := newBreaker(5, time.Second)
	failN(cb, 5)
	clock.Advance(time.Second)
	_ = cb.Allow(key)

	cb.RecordFailure(key)
	if err := cb.Allow(key); err != ErrCircuitOpen {
		t.Fatalf("failed probe should reopen the circuit, got %v", err)
	}

	clock.Advance(999 * time.Millisecond)
	if err := cb.Allow(key); err != ErrCircuitOpen {
		t.Fatal("cooldown restarts from the failed probe")
	}
}
