package engine

import "fmt"

// NodeKind is the closed set of vertex kinds a Flow may contain.
type NodeKind string

const (
	KindSourceNode   NodeKind = "source"
	KindSinkNode     NodeKind = "sink"
	KindAINode       NodeKind = "ai"
	KindFunctionNode NodeKind = "function"
	KindRouterNode   NodeKind = "router"
	KindParallelNode NodeKind = "parallel"
	KindLoopNode     NodeKind = "loop"
)

// Node is one vertex of a Flow. Data carries kind-specific configuration
// (AI node: provider/model/prompt/executionMode; router: routes/routeField;
// parallel: splitterNodeId/processorNodeId/mergerNodeId/maxConcurrency;
// loop: bodyNodeId/condition/maxIterations; sink: sinkType/target) as an
// untyped map so the engine stays agnostic to the UI/storage schema that
// produces it.
type Node struct {
	NodeID string
	Kind   NodeKind
	Data   map[string]interface{}

	incoming []Edge
	outgoing []Edge
}

// Edge connects two nodes, optionally through named handles for
// multi-output/multi-input nodes (e.g. a router's per-route outputs).
type Edge struct {
	From       string
	FromHandle string
	To         string
	ToHandle   string
}

// RoutingResult is what a router node hands back to the orchestrator: the
// routeKey it resolved, the target node ID that key selects, and the input
// to forward. Defined here (rather than in engine/executor, which depends
// on this package) so the orchestrator can read TargetNodeID to gate
// traversal without an import cycle.
type RoutingResult struct {
	RouteKey     string      `json:"routeKey"`
	TargetNodeID string      `json:"targetNodeId"`
	Input        interface{} `json:"input"`
}

// Flow is the read-only-to-the-engine DAG definition.
type Flow struct {
	ID      string
	Version int
	Name    string
	Nodes   map[string]*Node
	Edges   []Edge
}

// CompiledFlow is the result of Compile: a validated Flow plus its
// topological order and resolved adjacency, ready to drive.
type CompiledFlow struct {
	Flow     *Flow
	TopoSort []string
}

// Compile validates a Flow's structural invariants and produces a
// topological order via Kahn's algorithm. It returns an *Error of kind
// EXECUTION_FAILED — wrapping ErrCycle — whenever the sort cannot cover
// every node (i.e. the edge set contains a cycle), and NODE_NOT_FOUND when
// an edge references a node absent from Nodes.
func Compile(f *Flow, ctx Context) (*CompiledFlow, error) {
	indegree := make(map[string]int, len(f.Nodes))
	adj := make(map[string][]string, len(f.Nodes))
	for id := range f.Nodes {
		indegree[id] = 0
	}

	for _, e := range f.Edges {
		from, ok := f.Nodes[e.From]
		if !ok {
			return nil, New(KindNodeNotFound, fmt.Sprintf("edge references unknown source node %q", e.From), ctx)
		}
		to, ok := f.Nodes[e.To]
		if !ok {
			return nil, New(KindNodeNotFound, fmt.Sprintf("edge references unknown target node %q", e.To), ctx)
		}
		from.outgoing = append(from.outgoing, e)
		to.incoming = append(to.incoming, e)
		adj[e.From] = append(adj[e.From], e.To)
		indegree[e.To]++
	}

	queue := make([]string, 0, len(f.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(f.Nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(f.Nodes) {
		e := Wrap(KindExecutionFailed, ErrCycle, ctx)
		e.Message = "flow contains cycles"
		return nil, e
	}

	return &CompiledFlow{Flow: f, TopoSort: order}, nil
}

// Incoming returns the cached incoming edge set for a node, valid only
// after Compile has run over the owning Flow.
func (n *Node) Incoming() []Edge { return n.incoming }

// Outgoing returns the cached outgoing edge set for a node, valid only
// after Compile has run over the owning Flow.
func (n *Node) Outgoing() []Edge { return n.outgoing }

// ResolveInput computes a node's input by its tie-break rules: zero incoming
// edges yields the flow input; exactly one edge yields its upstream output
// unwrapped; more than one edge yields a map keyed by FromHandle (falling
// back to the source node ID when the handle is empty).
func ResolveInput(n *Node, flowInput interface{}, nodeResults map[string]interface{}) interface{} {
	edges := n.Incoming()
	switch len(edges) {
	case 0:
		return flowInput
	case 1:
		return nodeResults[edges[0].From]
	default:
		merged := make(map[string]interface{}, len(edges))
		for _, e := range edges {
			key := e.FromHandle
			if key == "" {
				key = e.From
			}
			merged[key] = nodeResults[e.From]
		}
		return merged
	}
}
