package engine

import (
	"errors"
	"testing"
)

func TestCompile_ProducesValidTopologicalOrder(t *testing.T) {
	flow := &Flow{
		ID: "f1",
		Nodes: map[string]*Node{
			"a": {NodeID: "a", Kind: KindSourceNode},
			"b": {NodeID: "b", Kind: KindFunctionNode},
			"c": {NodeID: "c", Kind: KindFunctionNode},
			"d": {NodeID: "d", Kind: KindSinkNode},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
			{From: "b", To: "d"},
			{From: "c", To: "d"},
		},
	}

	compiled, err := Compile(flow, Context{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(compiled.TopoSort) != 4 {
		t.Fatalf("expected all 4 nodes in the topo order, got %d", len(compiled.TopoSort))
	}

	pos := make(map[string]int, len(compiled.TopoSort))
	for i, id := range compiled.TopoSort {
		pos[id] = i
	}
	if pos["a"] >= pos["b"] || pos["a"] >= pos["c"] {
		t.Error("expected a to precede both b and c")
	}
	if pos["b"] >= pos["d"] || pos["c"] >= pos["d"] {
		t.Error("expected b and c to both precede d")
	}
}

func TestCompile_PopulatesIncomingOutgoing(t *testing.T) {
	flow := &Flow{
		ID: "f1",
		Nodes: map[string]*Node{
			"a": {NodeID: "a"},
			"b": {NodeID: "b"},
		},
		Edges: []Edge{{From: "a", To: "b"}},
	}
	if _, err := Compile(flow, Context{}); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(flow.Nodes["a"].Outgoing()) != 1 || flow.Nodes["a"].Outgoing()[0].To != "b" {
		t.Error("expected a's outgoing edge set to contain the edge to b")
	}
	if len(flow.Nodes["b"].Incoming()) != 1 || flow.Nodes["b"].Incoming()[0].From != "a" {
		t.Error("expected b's incoming edge set to contain the edge from a")
	}
}

func TestCompile_RejectsCycles(t *testing.T) {
	flow := &Flow{
		ID: "f1",
		Nodes: map[string]*Node{
			"a": {NodeID: "a"},
			"b": {NodeID: "b"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}

	_, err := Compile(flow, Context{})
	if err == nil {
		t.Fatal("expected a cycle to be rejected")
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindExecutionFailed || !errors.Is(e, ErrCycle) {
		t.Errorf("expected EXECUTION_FAILED wrapping ErrCycle, got %v", err)
	}
}

func TestCompile_RejectsEdgeToUnknownNode(t *testing.T) {
	flow := &Flow{
		ID: "f1",
		Nodes: map[string]*Node{
			"a": {NodeID: "a"},
		},
		Edges: []Edge{{From: "a", To: "ghost"}},
	}
	_, err := Compile(flow, Context{})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindNodeNotFound {
		t.Fatalf("expected NODE_NOT_FOUND for an edge to an unknown target, got %v", err)
	}
}

func TestCompile_RejectsEdgeFromUnknownNode(t *testing.T) {
	flow := &Flow{
		ID: "f1",
		Nodes: map[string]*Node{
			"a": {NodeID: "a"},
		},
		Edges: []Edge{{From: "ghost", To: "a"}},
	}
	_, err := Compile(flow, Context{})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindNodeNotFound {
		t.Fatalf("expected NODE_NOT_FOUND for an edge from an unknown source, got %v", err)
	}
}

func TestResolveInput_ZeroEdgesReturnsFlowInput(t *testing.T) {
	node := &Node{NodeID: "a"}
	got := ResolveInput(node, "flow-level-input", nil)
	if got != "flow-level-input" {
		t.Errorf("expected the flow input to pass through, got %v", got)
	}
}

func TestResolveInput_SingleEdgeUnwrapsUpstreamOutput(t *testing.T) {
	flow := &Flow{
		Nodes: map[string]*Node{
			"a": {NodeID: "a"},
			"b": {NodeID: "b"},
		},
		Edges: []Edge{{From: "a", To: "b"}},
	}
	if _, err := Compile(flow, Context{}); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	results := map[string]interface{}{"a": map[string]interface{}{"value": 42}}
	got := ResolveInput(flow.Nodes["b"], "unused", results)
	m, ok := got.(map[string]interface{})
	if !ok || m["value"] != 42 {
		t.Errorf("expected b's input to be a's raw output, got %v", got)
	}
}

func TestResolveInput_MultipleEdgesMergeByHandle(t *testing.T) {
	flow := &Flow{
		Nodes: map[string]*Node{
			"a": {NodeID: "a"},
			"b": {NodeID: "b"},
			"c": {NodeID: "c"},
		},
		Edges: []Edge{
			{From: "a", To: "c", FromHandle: "left"},
			{From: "b", To: "c"},
		},
	}
	if _, err := Compile(flow, Context{}); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	results := map[string]interface{}{"a": "from-a", "b": "from-b"}
	got := ResolveInput(flow.Nodes["c"], "unused", results)
	merged, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected a merged map, got %T", got)
	}
	if merged["left"] != "from-a" {
		t.Errorf("expected the named handle to key the merge, got %v", merged)
	}
	if merged["b"] != "from-b" {
		t.Errorf("expected an empty handle to fall back to the source node ID, got %v", merged)
	}
}
