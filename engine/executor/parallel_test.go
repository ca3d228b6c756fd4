package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/flowcraft/flowengine/engine"
)

// doubleExecutor doubles a numeric chunk; used as the processor node under
// test. inFlight/maxInFlight track concurrent invocation for the
// maxConcurrency test.
type doubleExecutor struct {
	inFlight, maxInFlight int32
}

func (e *doubleExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	cur := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		max := atomic.LoadInt32(&e.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&e.maxInFlight, max, cur) {
			break
		}
	}
	n := input.(float64)
	return n * 2, nil
}

type identitySplitterExecutor struct{}

func (identitySplitterExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	return input, nil
}

type sumMergerExecutor struct{}

func (sumMergerExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	m := input.(map[string]interface{})
	results := m["results"].([]interface{})
	var total float64
	for _, r := range results {
		total += r.(float64)
	}
	return total, nil
}

type errExecutor struct{ err error }

func (e errExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	return nil, e.err
}

func newParallelExecContext(nodes map[string]engine.NodeKind, registry *engine.Registry) *engine.ExecContext {
	flowNodes := make(map[string]*engine.Node, len(nodes))
	for id, kind := range nodes {
		flowNodes[id] = &engine.Node{NodeID: id, Kind: kind}
	}
	return &engine.ExecContext{
		ExecutionID: "e1", FlowID: "f1",
		Flow:     &engine.Flow{ID: "f1", Nodes: flowNodes},
		Registry: registry,
		Context:  context.Background(),
	}
}

func TestParallelExecutor_NoSplitterNoMerger(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("double", &doubleExecutor{})
	ec := newParallelExecContext(map[string]engine.NodeKind{"proc": "double"}, reg)

	node := &engine.Node{NodeID: "p1", Kind: engine.KindParallelNode, Data: map[string]interface{}{
		"processorNodeId": "proc",
	}}

	out, err := NewParallelExecutor().Execute(node, float64(21), ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(ParallelResult)
	if result.TotalChunks != 1 || result.Results[0].(float64) != 42 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestParallelExecutor_SplitterAndMerger(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("double", &doubleExecutor{})
	reg.Register("sum", sumMergerExecutor{})
	reg.Register("split", identitySplitterExecutor{})
	ec := newParallelExecContext(map[string]engine.NodeKind{"proc": "double", "merge": "sum", "splitter": "split"}, reg)

	node := &engine.Node{NodeID: "p1", Kind: engine.KindParallelNode, Data: map[string]interface{}{
		"splitterNodeId":  "splitter",
		"processorNodeId": "proc",
		"mergerNodeId":    "merge",
	}}

	out, err := NewParallelExecutor().Execute(node, []interface{}{1.0, 2.0, 3.0}, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.(float64) != 12 { // (1+2+3)*2
		t.Errorf("expected merged sum 12, got %v", out)
	}
}

func TestParallelExecutor_MaxConcurrency(t *testing.T) {
	reg := engine.NewRegistry()
	proc := &doubleExecutor{}
	reg.Register("double", proc)
	reg.Register("split", identitySplitterExecutor{})
	ec := newParallelExecContext(map[string]engine.NodeKind{"proc": "double", "splitter": "split"}, reg)

	chunks := make([]interface{}, 20)
	for i := range chunks {
		chunks[i] = float64(i)
	}
	node := &engine.Node{NodeID: "p1", Kind: engine.KindParallelNode, Data: map[string]interface{}{
		"splitterNodeId":  "splitter",
		"processorNodeId": "proc",
		"maxConcurrency":  float64(2),
	}}

	if _, err := NewParallelExecutor().Execute(node, chunks, ec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if proc.maxInFlight > 2 {
		t.Errorf("maxConcurrency=2 violated: observed %d concurrent calls", proc.maxInFlight)
	}
}

func TestParallelExecutor_PropagatesFirstError(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register("fail", errExecutor{err: fmt.Errorf("boom")})
	ec := newParallelExecContext(map[string]engine.NodeKind{"proc": "fail"}, reg)

	node := &engine.Node{NodeID: "p1", Kind: engine.KindParallelNode, Data: map[string]interface{}{
		"processorNodeId": "proc",
	}}

	if _, err := NewParallelExecutor().Execute(node, []interface{}{1.0, 2.0}, ec); err == nil {
		t.Error("expected propagated chunk error")
	}
}

func TestParallelExecutor_MissingProcessorNodeId(t *testing.T) {
	ec := newParallelExecContext(nil, engine.NewRegistry())
	node := &engine.Node{NodeID: "p1", Kind: engine.KindParallelNode, Data: map[string]interface{}{}}
	if _, err := NewParallelExecutor().Execute(node, nil, ec); err == nil {
		t.Error("expected error for missing processorNodeId")
	}
}
