package engine

import "time"

// TriggerKind is how an execution was initiated.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerWebhook  TriggerKind = "webhook"
	TriggerSchedule TriggerKind = "schedule"
)

// Trigger describes what initiated an Execute call.
type Trigger struct {
	Kind         TriggerKind
	SubjectID    string
	RequestID    string
	IPAddress    string
	UserAgent    string
	ScheduledAt  time.Time
}

// Execution is the mutable, persisted record of one flow invocation.
type Execution struct {
	ID          string
	FlowID      string
	FlowVersion int
	Input       interface{}
	Status      Status
	Output      interface{}
	Err         *Error
	StartedAt   time.Time
	CompletedAt time.Time
	TriggeredBy Trigger
	Metrics     Metrics
}

// NodeStateStatus is a node's in-memory lifecycle status within one
// execution, distinct from Status (the execution-level enum): it adds
// "skipped" for nodes a router decision excludes.
type NodeStateStatus string

const (
	NodeStatusPending   NodeStateStatus = "pending"
	NodeStatusRunning   NodeStateStatus = "running"
	NodeStatusCompleted NodeStateStatus = "completed"
	NodeStatusFailed    NodeStateStatus = "failed"
	NodeStatusSkipped   NodeStateStatus = "skipped"
)

// CanonicalNodeStatus normalizes a status string read back from storage to
// the engine's canonical spelling. The engine always writes "completed",
// but source data (and some older persisted rows) uses "complete" for the
// same state; both read back as NodeStatusCompleted.
func CanonicalNodeStatus(s string) NodeStateStatus {
	if s == "complete" {
		return NodeStatusCompleted
	}
	return NodeStateStatus(s)
}

// CanonicalStatus is CanonicalNodeStatus's execution-level counterpart, for
// the same "complete"/"completed" spelling inconsistency in Execution rows.
func CanonicalStatus(s string) Status {
	if s == "complete" {
		return StatusCompleted
	}
	return Status(s)
}

// NodeState is the in-memory, per-execution record of one node's progress.
// It is owned exclusively by the Orchestrator driving the execution.
type NodeState struct {
	NodeID           string
	Status           NodeStateStatus
	Input            interface{}
	Output           interface{}
	Err              *Error
	StartedAt        time.Time
	CompletedAt      time.Time
	DurationMs       int64
	BlockExecutionID string
}

// BlockExecution is the persisted row for one node invocation, mirroring
// NodeState plus the hybrid-routing bookkeeping the fallback tracker (C10)
// produces.
type BlockExecution struct {
	ID              string
	ExecutionID     string
	NodeID          string
	Status          NodeStateStatus
	Input           interface{}
	Output          interface{}
	Err             *Error
	StartedAt       time.Time
	CompletedAt     time.Time
	DurationMs      int64
	ExecutionPath   ExecutionPath
	FallbackReason  string
	PatternMatched  string
	MatchConfidence float64
}

// EventKind is the closed set of event kinds the emitter may produce.
type EventKind string

const (
	EventExecutionStart     EventKind = "execution_start"
	EventExecutionComplete  EventKind = "execution_complete"
	EventExecutionError     EventKind = "execution_error"
	EventExecutionCancelled EventKind = "execution_cancelled"
	EventNodeStart          EventKind = "node_start"
	EventNodeStream         EventKind = "node_stream"
	EventNodeComplete       EventKind = "node_complete"
	EventNodeError          EventKind = "node_error"
	EventNodeSkipped        EventKind = "node_skipped"
)

// EventRecord is one append-only, persisted event in an execution's replay
// log. Index is strictly increasing and gap-free within one ExecutionID.
type EventRecord struct {
	ExecutionID string
	Index       int64
	Kind        EventKind
	Payload     map[string]interface{}
	CreatedAt   time.Time
}
