package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// run is the orchestrator's private bookkeeping for one in-flight or
// completed execution: its cancellation handle, state machine, emitter,
// and node-local results. It is not exposed outside the package; callers
// interact through Orchestrator's methods and the Store/Emitter they were
// given.
type run struct {
	mu sync.RWMutex

	execution *Execution
	sm        *StateMachine
	emitter   Emitter
	fallback  *FallbackTracker
	cancel    context.CancelFunc

	nodeResults map[string]interface{}
	nodeStates  map[string]*NodeState
	skipped     map[string]bool
}

// Orchestrator compiles flows and drives their executions: DAG compile,
// topological dispatch, per-node state tracking, cancellation, and
// terminal metrics aggregation (C9).
type Orchestrator struct {
	registry       *Registry
	store          Store
	emitterFactory func(executionID string) Emitter
	opts           Options
	breakers       *BreakerRegistry

	mu   sync.RWMutex
	runs map[string]*run
}

// New constructs an Orchestrator. emitterFactory builds a fresh per-
// execution Emitter (typically wrapping store-backed persistence with a
// log or otel sink); registry must have an Executor bound for every
// NodeKind the flows it will run actually use.
func New(store Store, registry *Registry, emitterFactory func(executionID string) Emitter, opts ...interface{}) (*Orchestrator, error) {
	resolved, err := resolveOptions(opts...)
	if err != nil {
		return nil, err
	}
	breakers := resolved.Breakers
	if breakers == nil {
		breakers = NewBreakerRegistry(resolved.BreakerConfig)
	}
	return &Orchestrator{
		registry:       registry,
		store:          store,
		emitterFactory: emitterFactory,
		opts:           resolved,
		breakers:       breakers,
		runs:           make(map[string]*run),
	}, nil
}

// Options returns the orchestrator's resolved configuration, for executors
// wired externally (engine/executor) that need the retry policy, breaker
// registry, or timeouts.
func (o *Orchestrator) Options() Options { return o.opts }

// Breakers returns the orchestrator's circuit breaker registry.
func (o *Orchestrator) Breakers() *BreakerRegistry { return o.breakers }

// Submit compiles flow, persists a pending Execution, and spawns the drive
// loop in the background. It returns immediately with the new execution's
// ID and its initial status.
func (o *Orchestrator) Submit(ctx context.Context, flow *Flow, input interface{}, trigger Trigger) (string, Status, error) {
	execID := uuid.NewString()
	errCtx := Context{FlowID: flow.ID, ExecutionID: execID}

	compiled, err := Compile(flow, errCtx)
	if err != nil {
		return "", "", err
	}

	exec := &Execution{
		ID:          execID,
		FlowID:      flow.ID,
		FlowVersion: flow.Version,
		Input:       input,
		Status:      StatusPending,
		TriggeredBy: trigger,
	}
	if err := o.store.SaveExecution(ctx, exec); err != nil {
		return "", "", fmt.Errorf("persisting pending execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		execution:   exec,
		sm:          NewStateMachine(),
		emitter:     o.emitterFactory(execID),
		fallback:    NewFallbackTracker(),
		cancel:      cancel,
		nodeResults: make(map[string]interface{}),
		nodeStates:  make(map[string]*NodeState),
		skipped:     make(map[string]bool),
	}

	o.mu.Lock()
	o.runs[execID] = r
	o.mu.Unlock()

	go o.drive(runCtx, compiled, r)

	return execID, StatusPending, nil
}

// Cancel requests cancellation of a running execution. It returns an error
// (analogous to HTTP 409) if the execution is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	o.mu.RLock()
	r, ok := o.runs[executionID]
	o.mu.RUnlock()
	if !ok {
		return New(KindResourceNotFound, "unknown execution", Context{ExecutionID: executionID})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sm.Status() == StatusPending || r.sm.Status() == StatusRunning {
		r.cancel()
		return nil
	}
	return New(KindValidationFailed, "execution already in a terminal state", Context{ExecutionID: executionID})
}

// Status returns the current status of a known execution.
func (o *Orchestrator) Status(executionID string) (Status, bool) {
	o.mu.RLock()
	r, ok := o.runs[executionID]
	o.mu.RUnlock()
	if !ok {
		return "", false
	}
	return r.sm.Status(), true
}

// drive runs the compiled flow's topological order to completion, failure,
// or cancellation.
func (o *Orchestrator) drive(ctx context.Context, compiled *CompiledFlow, r *run) {
	errCtx := Context{FlowID: compiled.Flow.ID, ExecutionID: r.execution.ID}

	if err := r.sm.Transition(StatusRunning, errCtx); err != nil {
		return
	}
	_ = r.emitter.Emit(ctx, EventExecutionStart, map[string]interface{}{
		"flowId": compiled.Flow.ID, "input": r.execution.Input,
	})
	r.sm.SetNodeCount(len(compiled.TopoSort))

	var terminalErr *Error

	for _, nodeID := range compiled.TopoSort {
		if ctx.Err() != nil {
			terminalErr = New(KindExecutionCancelled, "execution cancelled", errCtx)
			break
		}

		node := compiled.Flow.Nodes[nodeID]

		if o.shouldSkip(r, node) {
			now := time.Now()
			r.mu.Lock()
			r.skipped[nodeID] = true
			r.nodeStates[nodeID] = &NodeState{NodeID: nodeID, Status: NodeStatusSkipped, StartedAt: now, CompletedAt: now}
			r.mu.Unlock()
			_ = r.emitter.Emit(ctx, EventNodeSkipped, map[string]interface{}{
				"nodeId": nodeID, "reason": "upstream routing excluded this node",
			})
			continue
		}

		if err := o.runNode(ctx, compiled, r, node); err != nil {
			terminalErr = Adapt(err, Context{FlowID: compiled.Flow.ID, ExecutionID: r.execution.ID, NodeID: nodeID})
			break
		}
	}

	o.finish(ctx, r, compiled, terminalErr)
}

// shouldSkip reports whether node is excluded from this run: either a router
// decision marked it directly (see markUnroutedSkipped), or its entire
// incoming edge set is sourced from already-skipped nodes (propagation
// through the rest of the excluded branch). A node with no incoming edges
// and no direct mark is never skipped.
func (o *Orchestrator) shouldSkip(r *run, node *Node) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.skipped[node.NodeID] {
		return true
	}

	edges := node.Incoming()
	if len(edges) == 0 {
		return false
	}
	for _, e := range edges {
		if !r.skipped[e.From] {
			return false
		}
	}
	return true
}

// markUnroutedSkipped marks every direct outgoing target of a router node
// other than chosen as skipped. shouldSkip then propagates the exclusion to
// anything reachable only through them as drive reaches their turn in
// topological order.
func (o *Orchestrator) markUnroutedSkipped(r *run, node *Node, chosen string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range node.Outgoing() {
		if e.To != chosen {
			r.skipped[e.To] = true
		}
	}
}

// latestFallback returns the most recent fallback-tracker record for
// nodeID, if any was recorded during its execution.
func latestFallback(r *run, nodeID string) (FallbackRecord, bool) {
	records := r.fallback.For(nodeID)
	if len(records) == 0 {
		return FallbackRecord{}, false
	}
	return records[len(records)-1], true
}

// runNode dispatches one node through its bound Executor, recording
// BlockExecution rows and node_start/node_complete/node_error events.
func (o *Orchestrator) runNode(ctx context.Context, compiled *CompiledFlow, r *run, node *Node) error {
	errCtx := Context{FlowID: compiled.Flow.ID, ExecutionID: r.execution.ID, NodeID: node.NodeID}

	executor := o.registry.Get(node.Kind)
	if executor == nil {
		return New(KindExecutorNotFound, "no executor registered for kind "+string(node.Kind), errCtx)
	}

	r.mu.RLock()
	input := ResolveInput(node, r.execution.Input, r.nodeResults)
	r.mu.RUnlock()

	blockID := uuid.NewString()
	started := time.Now()

	ns := &NodeState{NodeID: node.NodeID, Status: NodeStatusRunning, Input: input, StartedAt: started, BlockExecutionID: blockID}
	r.mu.Lock()
	r.nodeStates[node.NodeID] = ns
	r.mu.Unlock()

	block := &BlockExecution{ID: blockID, ExecutionID: r.execution.ID, NodeID: node.NodeID, Status: NodeStatusRunning, Input: input, StartedAt: started}
	_ = o.store.SaveBlockExecution(ctx, block)

	nodeEmitter := r.emitter
	if ce, ok := r.emitter.(ChildEmitter); ok {
		nodeEmitter = ce.ChildFor(node.NodeID, blockID)
	}

	_ = nodeEmitter.Emit(ctx, EventNodeStart, map[string]interface{}{
		"nodeId": node.NodeID, "nodeKind": string(node.Kind), "blockExecutionId": blockID, "input": input,
	})

	ec := &ExecContext{
		ExecutionID: r.execution.ID,
		FlowID:      compiled.Flow.ID,
		NodeResults: r.nodeResults,
		FlowInput:   r.execution.Input,
		Trigger:     r.execution.TriggeredBy,
		Flow:        compiled.Flow,
		Registry:    o.registry,
		Emitter:     r.emitter,
		Fallback:    r.fallback,

		Breakers:          o.breakers,
		RetryPolicy:       o.opts.RetryPolicy,
		SandboxLimits:     o.opts.SandboxLimits,
		HybridCodeTimeout: o.opts.HybridCodeTimeout,
		HybridThreshold:   o.opts.HybridThreshold,
		CostTracker:       o.opts.CostTracker,

		Context: ctx,
		OnStream: func(chunk interface{}) {
			_ = nodeEmitter.Emit(ctx, EventNodeStream, map[string]interface{}{
				"nodeId": node.NodeID, "blockExecutionId": blockID, "event": chunk,
			})
		},
	}

	output, err := executor.Execute(node, input, ec)
	duration := time.Since(started).Milliseconds()

	if o.opts.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.opts.Metrics.RecordNodeLatency(r.execution.ID, node.NodeID, time.Since(started), status)
	}

	if fr, ok := latestFallback(r, node.NodeID); ok {
		block.ExecutionPath = fr.Decision.Path
		block.PatternMatched = fr.PatternMatched
		block.MatchConfidence = fr.MatchConfidence
		block.FallbackReason = fr.FallbackReason
	}

	if err != nil {
		e := Adapt(err, errCtx)
		ns.Status = NodeStatusFailed
		ns.Err = e
		ns.CompletedAt = time.Now()
		ns.DurationMs = duration

		block.Status = NodeStatusFailed
		block.Err = e
		block.CompletedAt = ns.CompletedAt
		block.DurationMs = duration
		_ = o.store.SaveBlockExecution(ctx, block)

		r.sm.IncFailedNodes()
		_ = nodeEmitter.Emit(ctx, EventNodeError, map[string]interface{}{
			"nodeId": node.NodeID, "blockExecutionId": blockID, "error": e.Error(),
		})
		return e
	}

	r.mu.Lock()
	r.nodeResults[node.NodeID] = output
	r.mu.Unlock()

	if node.Kind == KindRouterNode {
		if rr, ok := output.(RoutingResult); ok {
			o.markUnroutedSkipped(r, node, rr.TargetNodeID)
		}
	}

	ns.Status = NodeStatusCompleted
	ns.Output = output
	ns.CompletedAt = time.Now()
	ns.DurationMs = duration

	block.Status = NodeStatusCompleted
	block.Output = output
	block.CompletedAt = ns.CompletedAt
	block.DurationMs = duration
	_ = o.store.SaveBlockExecution(ctx, block)

	r.sm.IncCompletedNodes()
	_ = nodeEmitter.Emit(ctx, EventNodeComplete, map[string]interface{}{
		"nodeId": node.NodeID, "blockExecutionId": blockID, "output": output, "durationMs": duration,
	})
	return nil
}

// finish performs the terminal transition, collects sink outputs, persists
// the final Execution row, emits the terminal event, and closes the
// emitter.
func (o *Orchestrator) finish(ctx context.Context, r *run, compiled *CompiledFlow, terminalErr *Error) {
	errCtx := Context{FlowID: compiled.Flow.ID, ExecutionID: r.execution.ID}

	var next Status
	switch {
	case terminalErr != nil && terminalErr.Kind == KindExecutionCancelled:
		next = StatusCancelled
	case terminalErr != nil:
		next = StatusFailed
	default:
		next = StatusCompleted
	}

	_ = r.sm.Transition(next, errCtx)

	r.execution.Status = next
	r.execution.StartedAt = r.sm.StartedAt()
	r.execution.CompletedAt = r.sm.CompletedAt()
	r.execution.Metrics = r.sm.Metrics()

	if next == StatusCompleted {
		r.execution.Output = o.collectOutput(compiled, r)
		_ = o.store.SaveExecution(ctx, r.execution)
		_ = r.emitter.Emit(ctx, EventExecutionComplete, map[string]interface{}{
			"output": r.execution.Output, "metrics": r.execution.Metrics,
		})
	} else {
		r.execution.Err = terminalErr
		_ = o.store.SaveExecution(ctx, r.execution)
		kind := EventExecutionError
		payload := map[string]interface{}{}
		if next == StatusCancelled {
			kind = EventExecutionCancelled
		} else if terminalErr != nil {
			payload["error"] = terminalErr.Error()
		}
		_ = r.emitter.Emit(ctx, kind, payload)
	}

	r.emitter.Close()
}

// collectOutput gathers sink node outputs: a single sink returns its result
// directly; multiple sinks are keyed by node ID.
func (o *Orchestrator) collectOutput(compiled *CompiledFlow, r *run) interface{} {
	var sinkIDs []string
	for id, n := range compiled.Flow.Nodes {
		if n.Kind == KindSinkNode {
			sinkIDs = append(sinkIDs, id)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(sinkIDs) == 1 {
		return r.nodeResults[sinkIDs[0]]
	}
	out := make(map[string]interface{}, len(sinkIDs))
	for _, id := range sinkIDs {
		out[id] = r.nodeResults[id]
	}
	return out
}
