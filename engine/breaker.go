package engine

import (
	"sync"
	"time"
)

// BreakerState is one of the three states a circuit breaker occupies.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes a single breaker's thresholds.
type BreakerConfig struct {
	FailureThreshold      int
	FailureWindow         time.Duration
	ResetTimeout          time.Duration
	SuccessThreshold      int
	HalfOpenMaxConcurrent int
}

// DefaultBreakerConfig returns the engine-wide default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:      5,
		FailureWindow:         60 * time.Second,
		ResetTimeout:          30 * time.Second,
		SuccessThreshold:      3,
		HalfOpenMaxConcurrent: 3,
	}
}

// BreakerStats is the introspectable snapshot of a breaker's bookkeeping.
type BreakerStats struct {
	Name            string
	State           BreakerState
	FailureCount    int
	SuccessCount    int
	LastFailure     time.Time
	RecentFailures  []time.Time
	HalfOpenInFlight int
}

// breaker is one keyed circuit, guarding a single provider or named
// resource. All mutation happens under mu; Allow/RecordSuccess/RecordFailure
// are the only entry points and are safe for concurrent use.
type breaker struct {
	mu sync.Mutex

	name   string
	config BreakerConfig

	state BreakerState

	// recentFailures holds failure timestamps within the current window,
	// pruned lazily (throttled to at most once/sec) on each access.
	recentFailures []time.Time
	lastPrune      time.Time

	openedAt time.Time

	halfOpenSuccesses int
	halfOpenInFlight  int
}

func newBreaker(name string, cfg BreakerConfig) *breaker {
	return &breaker{name: name, config: cfg, state: StateClosed}
}

// Allow reports whether a call may proceed, and if so reserves an
// in-flight slot for HALF_OPEN accounting. The caller must pair a true
// result with a later RecordSuccess or RecordFailure.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.ResetTimeout {
			b.state = StateHalfOpen
			b.halfOpenSuccesses = 0
			b.halfOpenInFlight = 0
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.HalfOpenMaxConcurrent {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In HALF_OPEN, SuccessThreshold
// consecutive successes close the breaker; in CLOSED it prunes the failure
// window.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight--
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.recentFailures = nil
			b.halfOpenSuccesses = 0
		}
	case StateClosed:
		b.pruneLocked(time.Now())
	}
}

// RecordFailure reports a failed call. Any failure while HALF_OPEN reopens
// the breaker; a CLOSED breaker opens once FailureThreshold failures land
// within FailureWindow.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight--
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenSuccesses = 0
		return
	case StateOpen:
		return
	}

	b.recentFailures = append(b.recentFailures, now)
	b.pruneLocked(now)

	if len(b.recentFailures) >= b.config.FailureThreshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// pruneLocked discards failure timestamps outside the window. Throttled to
// at most once per second.
func (b *breaker) pruneLocked(now time.Time) {
	if !b.lastPrune.IsZero() && now.Sub(b.lastPrune) < time.Second {
		return
	}
	b.lastPrune = now

	cutoff := now.Add(-b.config.FailureWindow)
	kept := b.recentFailures[:0]
	for _, t := range b.recentFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.recentFailures = kept
}

func (b *breaker) stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var last time.Time
	if len(b.recentFailures) > 0 {
		last = b.recentFailures[len(b.recentFailures)-1]
	}
	tail := make([]time.Time, len(b.recentFailures))
	copy(tail, b.recentFailures)

	return BreakerStats{
		Name:             b.name,
		State:            b.state,
		FailureCount:     len(b.recentFailures),
		SuccessCount:     b.halfOpenSuccesses,
		LastFailure:      last,
		RecentFailures:   tail,
		HalfOpenInFlight: b.halfOpenInFlight,
	}
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.recentFailures = nil
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
	b.openedAt = time.Time{}
}

// BreakerRegistry is the process-wide, mutex-protected set of named circuit
// breakers, one per provider (or other externally-rate-limited key). It is
// the engine's single piece of global mutable state; DefaultBreakerRegistry
// is the process-wide singleton most callers should use, but a fresh
// registry can be constructed for isolated tests.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry constructs a registry applying cfg to every breaker it
// creates. A zero-value cfg resolves to DefaultBreakerConfig.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	return &BreakerRegistry{breakers: make(map[string]*breaker), config: cfg}
}

var defaultRegistry = NewBreakerRegistry(DefaultBreakerConfig())

// DefaultBreakerRegistry returns the process-wide singleton registry.
func DefaultBreakerRegistry() *BreakerRegistry { return defaultRegistry }

func (r *BreakerRegistry) get(name string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.config)
		r.breakers[name] = b
	}
	return b
}

// CanExecute reports whether a call against the named breaker may proceed
// right now, without reserving a HALF_OPEN slot. Prefer Execute for the
// common call-and-record pattern.
func (r *BreakerRegistry) CanExecute(name string) bool {
	b := r.get(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(b.openedAt) >= b.config.ResetTimeout && b.config.HalfOpenMaxConcurrent > 0
	case StateHalfOpen:
		return b.halfOpenInFlight < b.config.HalfOpenMaxConcurrent
	default:
		return false
	}
}

// Execute runs fn under the named breaker: it checks admission, invokes fn
// if admitted, and records the outcome. If the breaker rejects the call it
// returns a CIRCUIT_OPEN Error without invoking fn.
func (r *BreakerRegistry) Execute(name string, ctx Context, fn func() error) error {
	b := r.get(name)
	if !b.Allow() {
		e := New(KindCircuitOpen, "circuit breaker open for "+name, ctx)
		e.BreakerName = name
		return e
	}

	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Stats returns an introspectable snapshot of the named breaker, creating
// it (in CLOSED state) if it does not yet exist.
func (r *BreakerRegistry) Stats(name string) BreakerStats {
	return r.get(name).stats()
}

// Reset restores the named breaker to CLOSED with cleared counters. Exposed
// for test isolation between cases that share a registry.
func (r *BreakerRegistry) Reset(name string) {
	r.get(name).reset()
}

// ResetAll restores every known breaker to CLOSED.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	names := make([]*breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()
	for _, b := range names {
		b.reset()
	}
}
