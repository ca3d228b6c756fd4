package executor

import (
	"sync"

	"github.com/flowcraft/flowengine/engine"
)

// ParallelExecutor implements engine.Executor for engine.KindParallelNode.
// Node.Data: splitterNodeId (optional), processorNodeId (required — the
// explicit binding this executor uses for per-chunk processing),
// mergerNodeId (optional), maxConcurrency (0 = unbounded).
type ParallelExecutor struct{}

// NewParallelExecutor returns a parallel executor.
func NewParallelExecutor() *ParallelExecutor { return &ParallelExecutor{} }

// ParallelResult is returned when no mergerNodeId is configured.
type ParallelResult struct {
	Results     []interface{} `json:"results"`
	TotalChunks int           `json:"totalChunks"`
}

// Execute splits input into chunks, dispatches each to the processor node
// concurrently (bounded by maxConcurrency), and optionally merges.
func (p *ParallelExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}
	ctx := errContext(ec, node.NodeID)

	chunks, err := p.splitChunks(node, input, ec)
	if err != nil {
		return nil, err
	}

	processorID := getString(node.Data, "processorNodeId")
	processorNode, processorExec, err := p.resolveNode(node.NodeID, processorID, "processorNodeId", ec)
	if err != nil {
		return nil, err
	}

	maxConcurrency := getInt(node.Data, "maxConcurrency", 0)
	results := make([]interface{}, len(chunks))
	errs := make([]error, len(chunks))

	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if ec.Cancelled() {
			errs[i] = engine.New(engine.KindExecutionCancelled, "execution cancelled before chunk dispatch", ctx)
			continue
		}
		wg.Add(1)
		go func(i int, chunk interface{}) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			if ec.Cancelled() {
				errs[i] = engine.New(engine.KindExecutionCancelled, "execution cancelled", ctx)
				return
			}
			out, err := processorExec.Execute(processorNode, chunk, ec)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = out
		}(i, chunk)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, e
		}
	}

	if mergerID := getString(node.Data, "mergerNodeId"); mergerID != "" {
		mergerNode, mergerExec, err := p.resolveNode(node.NodeID, mergerID, "mergerNodeId", ec)
		if err != nil {
			return nil, err
		}
		return mergerExec.Execute(mergerNode, map[string]interface{}{
			"results": results, "originalInput": input,
		}, ec)
	}

	return ParallelResult{Results: results, TotalChunks: len(chunks)}, nil
}

// splitChunks runs the optional splitter node and normalizes its output to
// an ordered slice: an array output is used directly, a {chunks: [...]}
// object is unwrapped, anything else is wrapped as a singleton.
func (p *ParallelExecutor) splitChunks(node *engine.Node, input interface{}, ec *engine.ExecContext) ([]interface{}, error) {
	splitterID := getString(node.Data, "splitterNodeId")
	if splitterID == "" {
		return []interface{}{input}, nil
	}

	splitterNode, splitterExec, err := p.resolveNode(node.NodeID, splitterID, "splitterNodeId", ec)
	if err != nil {
		return nil, err
	}
	out, err := splitterExec.Execute(splitterNode, input, ec)
	if err != nil {
		return nil, err
	}
	return normalizeChunks(out), nil
}

func normalizeChunks(out interface{}) []interface{} {
	switch v := out.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		if chunks, ok := v["chunks"].([]interface{}); ok {
			return chunks
		}
	}
	return []interface{}{out}
}

func (p *ParallelExecutor) resolveNode(parallelNodeID, targetID, field string, ec *engine.ExecContext) (*engine.Node, engine.Executor, error) {
	ctx := errContext(ec, parallelNodeID)
	if targetID == "" {
		return nil, nil, engine.New(engine.KindValidationFailed, "parallel node missing "+field, ctx)
	}
	if ec.Flow == nil || ec.Registry == nil {
		return nil, nil, engine.New(engine.KindExecutionFailed, "parallel executor requires ExecContext.Flow and Registry", ctx)
	}
	target, ok := ec.Flow.Nodes[targetID]
	if !ok {
		return nil, nil, engine.New(engine.KindNodeNotFound, field+" references unknown node "+targetID, ctx)
	}
	exec := ec.Registry.Get(target.Kind)
	if exec == nil {
		return nil, nil, engine.New(engine.KindExecutorNotFound, "no executor registered for kind "+string(target.Kind), ctx)
	}
	return target, exec, nil
}

var _ engine.Executor = (*ParallelExecutor)(nil)
