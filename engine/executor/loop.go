package executor

import (
	"fmt"

	"github.com/flowcraft/flowengine/engine"
)

// DefaultMaxIterations is the loop executor's default iteration bound.
const DefaultMaxIterations = 10

// LoopExecutor implements engine.Executor for engine.KindLoopNode.
// Node.Data: bodyNodeId (required), condition (map with type="field"|
// "expression" and the fields below), maxIterations (default 10).
type LoopExecutor struct{}

// NewLoopExecutor returns a loop executor.
func NewLoopExecutor() *LoopExecutor { return &LoopExecutor{} }

// LoopResult is the node output shape for a completed loop node.
type LoopResult struct {
	FinalOutput    interface{}   `json:"finalOutput"`
	Iterations     []interface{} `json:"iterations"`
	TotalIterations int          `json:"totalIterations"`
	ExitReason     string        `json:"exitReason"`
}

const (
	exitMaxIterations = "max_iterations"
	exitConditionMet  = "condition_met"
)

// Execute runs the body node repeatedly, feeding each iteration's output as
// the next iteration's input, until the exit condition holds or
// maxIterations is reached.
func (l *LoopExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}
	ctx := errContext(ec, node.NodeID)

	bodyID := getString(node.Data, "bodyNodeId")
	if bodyID == "" {
		return nil, engine.New(engine.KindValidationFailed, "loop node missing bodyNodeId", ctx)
	}
	if ec.Flow == nil || ec.Registry == nil {
		return nil, engine.New(engine.KindExecutionFailed, "loop executor requires ExecContext.Flow and Registry", ctx)
	}
	bodyNode, ok := ec.Flow.Nodes[bodyID]
	if !ok {
		return nil, engine.New(engine.KindNodeNotFound, "bodyNodeId references unknown node "+bodyID, ctx)
	}
	bodyExec := ec.Registry.Get(bodyNode.Kind)
	if bodyExec == nil {
		return nil, engine.New(engine.KindExecutorNotFound, "no executor registered for kind "+string(bodyNode.Kind), ctx)
	}

	maxIterations := getInt(node.Data, "maxIterations", DefaultMaxIterations)
	condition, _ := node.Data["condition"].(map[string]interface{})

	cur := input
	var history []interface{}
	exitReason := exitMaxIterations

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if e := wrapCancelled(ec, node.NodeID); e != nil {
			return nil, e
		}

		out, err := bodyExec.Execute(bodyNode, cur, ec)
		if err != nil {
			return nil, err
		}
		history = append(history, out)
		cur = out

		met, err := evalExitCondition(condition, out, iteration, ctx)
		if err != nil {
			return nil, err
		}
		if met {
			exitReason = exitConditionMet
			break
		}
	}

	return LoopResult{
		FinalOutput:     cur,
		Iterations:      history,
		TotalIterations: len(history),
		ExitReason:      exitReason,
	}, nil
}

func evalExitCondition(condition map[string]interface{}, data interface{}, iteration int, ctx engine.Context) (bool, error) {
	if condition == nil {
		return false, nil
	}

	switch getString(condition, "type") {
	case "field":
		path := getString(condition, "field")
		op := getString(condition, "operator")
		target := condition["value"]
		return compareField(getNestedValue(data, path), op, target)

	case "expression":
		expr := getString(condition, "expression")
		return evalBoolExpr(expr, data, iteration)

	default:
		return false, nil
	}
}

func compareField(actual interface{}, op string, target interface{}) (bool, error) {
	af, aok := toFloat(actual)
	tf, tok := toFloat(target)

	switch op {
	case "eq":
		if aok && tok {
			return af == tf, nil
		}
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", target), nil
	case "neq":
		if aok && tok {
			return af != tf, nil
		}
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", target), nil
	case "gt":
		return aok && tok && af > tf, nil
	case "lt":
		return aok && tok && af < tf, nil
	case "gte":
		return aok && tok && af >= tf, nil
	case "lte":
		return aok && tok && af <= tf, nil
	default:
		return false, fmt.Errorf("unknown field comparison operator %q", op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
