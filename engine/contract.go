package engine

import (
	"context"
	"sync"
	"time"
)

// Store persists Executions, BlockExecutions, and the replayable event
// stream. Concrete implementations (engine/store) back this with an
// in-memory map, SQLite, or MySQL; the orchestrator depends only on this
// interface.
type Store interface {
	SaveExecution(ctx context.Context, e *Execution) error
	LoadExecution(ctx context.Context, id string) (*Execution, error)

	SaveBlockExecution(ctx context.Context, b *BlockExecution) error

	// AppendEvent persists an event and returns its assigned monotonic
	// index for the given execution.
	AppendEvent(ctx context.Context, e *EventRecord) (int64, error)
	// LoadEvents returns persisted events for executionID with
	// index >= fromIndex, ordered ascending.
	LoadEvents(ctx context.Context, executionID string, fromIndex int64) ([]*EventRecord, error)
}

// Emitter is the per-execution event stream: Emit assigns the event its
// index and persists it before fanning out to live subscribers.
type Emitter interface {
	Emit(ctx context.Context, kind EventKind, payload map[string]interface{}) error
	Subscribe(listener func(*EventRecord)) (unsubscribe func())
	Replay(ctx context.Context, fromIndex int64) ([]*EventRecord, error)
	Close()
}

// ChildEmitter is implemented by Emitters that can hand out a per-node
// scoped child (see emit.Aggregator). The orchestrator type-asserts for it
// so it can stamp nodeId/blockExecutionId once, in the child, instead of on
// every payload it builds; emitters that don't implement it just get the
// orchestrator's own stamping.
type ChildEmitter interface {
	ChildFor(nodeID, blockExecutionID string) Emitter
}

// ExecContext is the per-node-invocation context threaded through every
// Executor.
type ExecContext struct {
	ExecutionID string
	FlowID      string
	WorkspaceID string

	// NodeResults is read-only to executors: the orchestrator's completed
	// outputs keyed by nodeId, used to resolve multi-edge inputs.
	NodeResults map[string]interface{}
	FlowInput   interface{}
	Trigger     Trigger

	// Flow and Registry let the parallel and loop executors resolve and
	// dispatch the node(s) they reference by ID (processorNodeId,
	// bodyNodeId) without the orchestrator's topological driver — they are
	// the only executors that invoke another node's Executor directly.
	Flow     *Flow
	Registry *Registry

	// OnStream, when non-nil, receives provider stream chunks so the AI
	// executor can forward them as node_stream events.
	OnStream func(chunk interface{})

	Emitter  Emitter
	Fallback *FallbackTracker

	// Breakers, RetryPolicy, SandboxLimits, and HybridCodeTimeout mirror the
	// orchestrator's resolved Options so the AI executor doesn't need its own
	// copies threaded in at construction time. The function executor reads
	// none of them: it uses its own sandbox Limits and a fixed two-attempt
	// retry policy.
	Breakers          *BreakerRegistry
	RetryPolicy       RetryPolicy
	SandboxLimits     SandboxLimits
	HybridCodeTimeout time.Duration
	HybridThreshold   float64
	CostTracker       *CostTracker

	Context context.Context
}

// Cancelled reports whether the execution's cancellation handle has fired.
func (ec *ExecContext) Cancelled() bool {
	return ec.Context != nil && ec.Context.Err() != nil
}

// Executor is the uniform strategy interface every node kind implements.
// Implementations must honor ec.Context cancellation at every suspension
// point and return an EXECUTION_CANCELLED *Error when it fires.
type Executor interface {
	Execute(node *Node, input interface{}, ec *ExecContext) (interface{}, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(node *Node, input interface{}, ec *ExecContext) (interface{}, error)

// Execute calls f.
func (f ExecutorFunc) Execute(node *Node, input interface{}, ec *ExecContext) (interface{}, error) {
	return f(node, input, ec)
}

// Registry maps node kinds to the Executor that handles them. Per the
// spec's design notes, polymorphism over node kinds is a tagged-variant
// Node plus a registry keyed by kind; one Registry is populated at startup
// and shared by every Orchestrator built from it.
type Registry struct {
	mu        sync.RWMutex
	executors map[NodeKind]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[NodeKind]Executor)}
}

// Register binds an Executor to a NodeKind, overwriting any prior binding.
func (r *Registry) Register(kind NodeKind, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = ex
}

// Get returns the Executor bound to kind, or nil if none was registered.
func (r *Registry) Get(kind NodeKind) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[kind]
}
