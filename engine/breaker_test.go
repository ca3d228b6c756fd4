package engine

import (
	"errors"
	"testing"
	"time"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:      3,
		FailureWindow:         time.Minute,
		ResetTimeout:          10 * time.Millisecond,
		SuccessThreshold:      2,
		HalfOpenMaxConcurrent: 1,
	}
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := newBreaker("svc", testBreakerConfig())

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected CLOSED breaker to allow call %d", i)
		}
		b.RecordFailure()
	}
	if b.stats().State != StateOpen {
		t.Fatalf("expected breaker to open after reaching failure threshold, got %s", b.stats().State)
	}
	if b.Allow() {
		t.Error("expected an OPEN breaker to reject calls before ResetTimeout elapses")
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cfg := testBreakerConfig()
	b := newBreaker("svc", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}

	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected breaker to allow a probe call once ResetTimeout has elapsed")
	}
	if b.stats().State != StateHalfOpen {
		t.Errorf("expected HALF_OPEN after the reset timeout, got %s", b.stats().State)
	}
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := testBreakerConfig()
	b := newBreaker("svc", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if !b.Allow() {
			t.Fatalf("expected HALF_OPEN breaker to admit probe %d within HalfOpenMaxConcurrent", i)
		}
		b.RecordSuccess()
	}
	if b.stats().State != StateClosed {
		t.Errorf("expected breaker to close after SuccessThreshold consecutive successes, got %s", b.stats().State)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := testBreakerConfig()
	b := newBreaker("svc", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)

	b.Allow()
	b.RecordFailure()

	if b.stats().State != StateOpen {
		t.Errorf("expected a HALF_OPEN failure to reopen the breaker, got %s", b.stats().State)
	}
}

func TestBreaker_HalfOpenRespectsConcurrencyCap(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.HalfOpenMaxConcurrent = 1
	b := newBreaker("svc", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected the first half-open probe to be admitted")
	}
	if b.Allow() {
		t.Error("expected a second concurrent half-open probe to be rejected")
	}
}

func TestBreaker_Reset(t *testing.T) {
	cfg := testBreakerConfig()
	b := newBreaker("svc", cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Allow()
		b.RecordFailure()
	}
	if b.stats().State != StateOpen {
		t.Fatal("setup: expected breaker to be open")
	}

	b.reset()
	if b.stats().State != StateClosed {
		t.Errorf("expected reset to restore CLOSED, got %s", b.stats().State)
	}
	if !b.Allow() {
		t.Error("expected a reset breaker to allow calls")
	}
}

func TestBreakerRegistry_ExecuteRejectsWhenOpen(t *testing.T) {
	reg := NewBreakerRegistry(testBreakerConfig())
	boom := errors.New("downstream failed")

	for i := 0; i < 3; i++ {
		_ = reg.Execute("provider-x", Context{}, func() error { return boom })
	}

	err := reg.Execute("provider-x", Context{}, func() error { return nil })
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindCircuitOpen {
		t.Fatalf("expected CIRCUIT_OPEN once the breaker trips, got %v", err)
	}
	if e.BreakerName != "provider-x" {
		t.Errorf("expected BreakerName to identify the tripped breaker, got %q", e.BreakerName)
	}
}

func TestBreakerRegistry_ResetAndResetAll(t *testing.T) {
	reg := NewBreakerRegistry(testBreakerConfig())
	boom := errors.New("fail")
	for i := 0; i < 3; i++ {
		_ = reg.Execute("a", Context{}, func() error { return boom })
		_ = reg.Execute("b", Context{}, func() error { return boom })
	}
	if reg.Stats("a").State != StateOpen || reg.Stats("b").State != StateOpen {
		t.Fatal("setup: expected both breakers to be open")
	}

	reg.Reset("a")
	if reg.Stats("a").State != StateClosed {
		t.Error("expected Reset to close breaker a only")
	}
	if reg.Stats("b").State != StateOpen {
		t.Error("expected breaker b to remain open after resetting only a")
	}

	reg.ResetAll()
	if reg.Stats("b").State != StateClosed {
		t.Error("expected ResetAll to close every breaker")
	}
}
