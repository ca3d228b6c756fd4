// Package tool defines the interface an ai node's tool calls are dispatched
// through. engine/executor's AIExecutor invokes a Tool by name whenever a
// provider's ChatOut carries a ToolCall matching one in AIExecutor.Tools.
package tool

import "context"

// Tool is something an ai node can invoke mid-conversation: a web search, a
// database query, an external API call. Name must match the name an LLM
// provider is told about (via model.ToolSpec) and the name it requests back
// (via model.ToolCall).
type Tool interface {
	// Name returns the tool's identifier, matched against ToolCall.Name.
	Name() string

	// Call executes the tool against input (the ToolCall's Input map,
	// possibly nil) and returns a structured result or an error. Call must
	// respect ctx cancellation and should be safe to call concurrently if
	// an ai node's tool calls are ever dispatched in parallel.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
