package engine

import (
	"sync"
	"time"
)

// Status is an Execution's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// legalTransitions enumerates every allowed Status edge. Anything absent
// here is illegal and raises ErrInvalidTransition.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// Metrics aggregates per-execution totals, mutated only through the
// StateMachine's helper methods so that concurrent node completions never
// race on the underlying counters.
type Metrics struct {
	TotalDurationMs  int64
	TotalTokensInput  int64
	TotalTokensOutput int64
	NodeCount         int
	CompletedNodes    int
	FailedNodes       int
}

// StateMachine owns one Execution's status and aggregate Metrics, enforcing
// its legal-transition table. All methods are safe for concurrent use; node
// completions from a fanned-out parallel executor call
// IncCompletedNodes/IncFailedNodes/AddTokens concurrently.
type StateMachine struct {
	mu sync.Mutex

	status      Status
	startedAt   time.Time
	completedAt time.Time
	metrics     Metrics
}

// NewStateMachine starts an execution in StatusPending.
func NewStateMachine() *StateMachine {
	return &StateMachine{status: StatusPending}
}

// Status returns the current status.
func (s *StateMachine) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transition moves the machine to next, recording StartedAt/CompletedAt and
// (on any terminal transition) TotalDurationMs. An illegal transition
// returns an *Error of kind EXECUTION_FAILED wrapping ErrInvalidTransition —
// this is fatal and must never be silently ignored by the caller.
func (s *StateMachine) Transition(next Status, ctx Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := legalTransitions[s.status]
	if !allowed[next] {
		e := Wrap(KindExecutionFailed, ErrInvalidTransition, ctx)
		e.Message = "cannot transition from " + string(s.status) + " to " + string(next)
		return e
	}

	now := time.Now()
	if next == StatusRunning {
		s.startedAt = now
	}
	if isTerminal(next) {
		s.completedAt = now
		if !s.startedAt.IsZero() {
			s.metrics.TotalDurationMs = now.Sub(s.startedAt).Milliseconds()
		}
	}
	s.status = next
	return nil
}

func isTerminal(st Status) bool {
	return st == StatusCompleted || st == StatusFailed || st == StatusCancelled
}

// StartedAt returns the timestamp of the pending->running transition, or
// the zero time if the execution has not yet started running.
func (s *StateMachine) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// CompletedAt returns the timestamp of the terminal transition, or the zero
// time if the execution has not yet reached a terminal state.
func (s *StateMachine) CompletedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}

// Metrics returns a copy of the current aggregate metrics.
func (s *StateMachine) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// SetNodeCount records the total number of nodes in the compiled topo order.
func (s *StateMachine) SetNodeCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.NodeCount = n
}

// IncCompletedNodes increments the completed-node counter by one.
func (s *StateMachine) IncCompletedNodes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.CompletedNodes++
}

// IncFailedNodes increments the failed-node counter by one.
func (s *StateMachine) IncFailedNodes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.FailedNodes++
}

// AddTokens accumulates input/output token usage. The orchestrator does not
// call it; the AI executor reports its token usage to the CostTracker only.
func (s *StateMachine) AddTokens(in, out int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TotalTokensInput += in
	s.metrics.TotalTokensOutput += out
}
