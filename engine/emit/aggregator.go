package emit

import (
	"context"

	"github.com/flowcraft/flowengine/engine"
)

// Aggregator wraps a flow-level StreamEmitter and hands out per-node child
// emitters. Every event still flows through the same root's shared
// (executionId, index) sequence and append-only log — there is no separate
// table or index per block execution — but each child stamps its own
// nodeId/blockExecutionId onto every payload it forwards, so a subscriber or
// an events-table query can recover a single block's slice of the stream
// without every executor repeating that bookkeeping itself. Aggregator
// itself satisfies engine.Emitter, so it can stand in as an execution's
// root emitter as well as a child factory.
type Aggregator struct {
	root *StreamEmitter
}

// NewAggregator wraps root.
func NewAggregator(root *StreamEmitter) *Aggregator {
	return &Aggregator{root: root}
}

// Root returns the underlying flow-level emitter.
func (a *Aggregator) Root() *StreamEmitter { return a.root }

// ChildFor returns an Emitter scoped to one node's block execution.
func (a *Aggregator) ChildFor(nodeID, blockExecutionID string) engine.Emitter {
	return &NodeEmitter{root: a.root, nodeID: nodeID, blockExecutionID: blockExecutionID}
}

// Emit forwards to the root emitter unscoped, for callers that address the
// aggregator as a plain execution-level Emitter.
func (a *Aggregator) Emit(ctx context.Context, kind engine.EventKind, payload map[string]interface{}) error {
	return a.root.Emit(ctx, kind, payload)
}

// Subscribe forwards to the root emitter.
func (a *Aggregator) Subscribe(listener func(*engine.EventRecord)) func() {
	return a.root.Subscribe(listener)
}

// Replay forwards to the root emitter.
func (a *Aggregator) Replay(ctx context.Context, fromIndex int64) ([]*engine.EventRecord, error) {
	return a.root.Replay(ctx, fromIndex)
}

// Close closes the root emitter.
func (a *Aggregator) Close() { a.root.Close() }

// NodeEmitter is a per-node view over the flow-level emitter: Emit stamps
// nodeId and blockExecutionId onto the payload before delegating.
type NodeEmitter struct {
	root             *StreamEmitter
	nodeID           string
	blockExecutionID string
}

// Emit forwards to the root emitter with nodeId/blockExecutionId merged
// into payload, overriding any caller-supplied values of the same keys.
func (n *NodeEmitter) Emit(ctx context.Context, kind engine.EventKind, payload map[string]interface{}) error {
	scoped := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		scoped[k] = v
	}
	scoped["nodeId"] = n.nodeID
	scoped["blockExecutionId"] = n.blockExecutionID
	return n.root.Emit(ctx, kind, scoped)
}

// Subscribe forwards to the root emitter; a node child has no narrower
// subscription scope than the execution it belongs to.
func (n *NodeEmitter) Subscribe(listener func(*engine.EventRecord)) func() {
	return n.root.Subscribe(listener)
}

// Replay forwards to the root emitter.
func (n *NodeEmitter) Replay(ctx context.Context, fromIndex int64) ([]*engine.EventRecord, error) {
	return n.root.Replay(ctx, fromIndex)
}

// Close is a no-op: a node child never owns the root emitter's lifecycle,
// since other nodes in the same execution keep using it.
func (n *NodeEmitter) Close() {}

var (
	_ engine.Emitter      = (*Aggregator)(nil)
	_ engine.ChildEmitter = (*Aggregator)(nil)
	_ engine.Emitter      = (*NodeEmitter)(nil)
)
