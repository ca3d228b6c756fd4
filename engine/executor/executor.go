// Package executor provides the concrete engine.Executor implementations
// for every engine.NodeKind: ai, function, router, parallel, loop, source,
// sink. Each executor depends on engine for the domain types and on
// engine/sandbox for the code path; none depend on each other.
package executor

import (
	"strconv"
	"strings"

	"github.com/flowcraft/flowengine/engine"
)

// getString reads a string field from a node's Data map, returning "" if
// absent or of the wrong type.
func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getFloat reads a numeric field, accepting both float64 (the typical
// JSON-decoded shape) and int.
func getFloat(data map[string]interface{}, key string, fallback float64) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// getInt reads an integer field via getFloat.
func getInt(data map[string]interface{}, key string, fallback int) int {
	return int(getFloat(data, key, float64(fallback)))
}

// getNestedValue resolves a dotted path ("a.b.c") against nested
// map[string]interface{}/[]interface{} structures; used by the router and
// loop executors' field-condition lookups.
func getNestedValue(input interface{}, path string) interface{} {
	if path == "" {
		return input
	}
	cur := input
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]interface{}:
			cur = v[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

// wrapCancelled returns an EXECUTION_CANCELLED *engine.Error if ec's context
// has been cancelled, otherwise nil. Executors call this at every
// suspension point.
func wrapCancelled(ec *engine.ExecContext, nodeID string) *engine.Error {
	if !ec.Cancelled() {
		return nil
	}
	return engine.New(engine.KindExecutionCancelled, "execution cancelled", errContext(ec, nodeID))
}

func errContext(ec *engine.ExecContext, nodeID string) engine.Context {
	return engine.Context{
		NodeID:      nodeID,
		FlowID:      ec.FlowID,
		ExecutionID: ec.ExecutionID,
	}
}
