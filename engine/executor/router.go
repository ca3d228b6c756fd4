package executor

import (
	"encoding/json"
	"fmt"

	"github.com/flowcraft/flowengine/engine"
)

// RouterExecutor implements engine.Executor for engine.KindRouterNode.
// It does not drive downstream nodes itself: it returns a decision
// the orchestrator's skip-propagation reads, gating which nodes run.
//
// Node.Data: routeField (string, dotted path) selects a direct lookup;
// absent routeField falls back to a classifier node's own output via
// Classify. routes (map[string]string) maps a routeKey to a target node
// ID; defaultRoute is used when the key is absent from routes.
type RouterExecutor struct {
	// Classify runs an AI classifier node when Data has no routeField.
	// NewDefaultRegistry passes nil, so its router nodes always need
	// routeField; a nil Classify with no routeField fails the node.
	Classify func(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error)
}

// NewRouterExecutor returns a router executor. classify may be nil.
func NewRouterExecutor(classify func(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error)) *RouterExecutor {
	return &RouterExecutor{Classify: classify}
}

// RoutingResult is what the router hands the orchestrator: {routeKey,
// targetNodeId, input}. It is an alias for engine.RoutingResult so the
// orchestrator can read TargetNodeID directly off a router node's output.
type RoutingResult = engine.RoutingResult

// Execute resolves a routeKey and its target node, failing fatally if
// neither a matching route nor a defaultRoute exists.
func (r *RouterExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}
	ctx := errContext(ec, node.NodeID)

	routeKey, err := r.resolveRouteKey(node, input, ec)
	if err != nil {
		return nil, err
	}

	routes, _ := node.Data["routes"].(map[string]interface{})
	target, ok := routes[routeKey].(string)
	if !ok {
		target = getString(node.Data, "defaultRoute")
		if target == "" {
			return nil, engine.New(engine.KindValidationFailed,
				fmt.Sprintf("router node %s has no route for key %q and no defaultRoute", node.NodeID, routeKey), ctx)
		}
	}

	return RoutingResult{RouteKey: routeKey, TargetNodeID: target, Input: input}, nil
}

func (r *RouterExecutor) resolveRouteKey(node *engine.Node, input interface{}, ec *engine.ExecContext) (string, error) {
	ctx := errContext(ec, node.NodeID)

	if field := getString(node.Data, "routeField"); field != "" {
		return stringifyRouteValue(getNestedValue(input, field)), nil
	}

	if r.Classify == nil {
		return "", engine.New(engine.KindValidationFailed, "router node has no routeField and no classifier available", ctx)
	}

	out, err := r.Classify(node, input, ec)
	if err != nil {
		return "", err
	}
	if m, ok := out.(map[string]interface{}); ok {
		for _, key := range []string{"route", "category", "class"} {
			if v, ok := m[key]; ok {
				return stringifyRouteValue(v), nil
			}
		}
	}
	return stringifyRouteValue(out), nil
}

func stringifyRouteValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("%v", s)
		}
		return string(b)
	}
}

var _ engine.Executor = (*RouterExecutor)(nil)
