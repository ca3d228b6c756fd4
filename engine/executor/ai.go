package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowcraft/flowengine/engine"
	"github.com/flowcraft/flowengine/engine/sandbox"
	"github.com/flowcraft/flowengine/model"
	"github.com/flowcraft/flowengine/tool"
)

// AIExecutor implements engine.Executor for engine.KindAINode: route
// to code or AI via engine.Route, attempt the code path through the sandbox
// with fallback-to-AI on failure, and call the selected provider guarded by
// the circuit breaker named after that provider and the engine-wide retry
// policy.
//
// Node.Data: executionMode ("ai_only"|"code_only"|"hybrid"|"ab_test"),
// generatedCode (string, used by code_only/hybrid/ab_test), provider
// (required — key into Providers), systemPrompt (optional), model (optional,
// recorded for cost tracking only).
type AIExecutor struct {
	Providers map[string]model.ChatModel
	Runner    sandbox.Runner
	// Tools keys a tool.Tool by ToolSpec.Name/ToolCall.Name. A nil map (the
	// default) leaves ToolCalls in the response unexecuted, for callers that
	// want to dispatch tool calls themselves.
	Tools map[string]tool.Tool
}

// NewAIExecutor returns an AI executor dispatching to providers by name and
// falling back to the code path through runner.
func NewAIExecutor(providers map[string]model.ChatModel, runner sandbox.Runner) *AIExecutor {
	return &AIExecutor{Providers: providers, Runner: runner}
}

// WithTools attaches a tool registry the executor invokes for any ToolCalls
// a provider response carries, keyed by ToolCall.Name.
func (a *AIExecutor) WithTools(tools map[string]tool.Tool) *AIExecutor {
	a.Tools = tools
	return a
}

// AIResult is the node output shape for a completed ai node.
type AIResult struct {
	Text      string                   `json:"text"`
	ToolCalls []map[string]interface{} `json:"toolCalls,omitempty"`
	Path      engine.ExecutionPath     `json:"path"`
	Provider  string                   `json:"provider,omitempty"`
}

// Execute runs node through the routed ai-executor algorithm: route, attempt
// code, fall back to AI on code-path failure.
func (a *AIExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}
	ctx := errContext(ec, node.NodeID)

	mode := engine.ExecutionMode(getString(node.Data, "executionMode"))
	generatedCode := getString(node.Data, "generatedCode")

	decision := engine.Route(mode, node.NodeID, generatedCode, input, ec.HybridThreshold)
	if ec.Fallback != nil {
		ec.Fallback.RecordDecision(node.NodeID, decision)
	}

	if decision.Path == engine.PathCode {
		out, err := a.runCode(generatedCode, input, ec)
		if err == nil {
			return AIResult{Text: stringifyAIOutput(out), Path: engine.PathCode}, nil
		}
		if e := wrapCancelled(ec, node.NodeID); e != nil {
			return nil, e
		}
		if ec.Fallback != nil {
			ec.Fallback.RecordFallback(node.NodeID, err.Error())
		}
	}

	return a.runAI(node, input, ec, ctx)
}

// runCode invokes the sandbox with the hybrid path's tighter
// sandbox.HybridCodeLimits timeout budget.
func (a *AIExecutor) runCode(code string, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if a.Runner == nil || code == "" {
		return nil, fmt.Errorf("no code path available")
	}
	limits := sandbox.HybridCodeLimits()
	if ec.SandboxLimits.MaxMemoryBytes > 0 {
		limits.MaxMemoryBytes = ec.SandboxLimits.MaxMemoryBytes
	}
	if ec.HybridCodeTimeout > 0 {
		limits.Timeout = ec.HybridCodeTimeout
	}
	result, err := a.Runner.Run(ec.Context, code, input, limits)
	if err != nil {
		return nil, err
	}
	return result.Output, nil
}

// runAI resolves the configured provider, guards the call with the circuit
// breaker named after the provider and the engine retry policy, and streams chunks
// through ec.OnStream.
func (a *AIExecutor) runAI(node *engine.Node, input interface{}, ec *engine.ExecContext, ctx engine.Context) (interface{}, error) {
	providerName := getString(node.Data, "provider")
	if providerName == "" {
		return nil, engine.New(engine.KindValidationFailed, "ai node has no provider configured", ctx)
	}
	provider, ok := a.Providers[providerName]
	if !ok {
		return nil, engine.New(engine.KindResourceNotFound, "unknown provider "+providerName, ctx)
	}
	ctx.Provider = providerName

	messages := buildMessages(node, input)

	policy := ec.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = engine.DefaultRetryPolicy()
	}

	specs := a.toolSpecs()

	var out model.ChatOut
	breakerErr := func() error {
		breakers := ec.Breakers
		if breakers == nil {
			breakers = engine.DefaultBreakerRegistry()
		}
		return breakers.Execute(providerName, ctx, func() error {
			result, err := engine.Do(ec.Context, policy, ctx, nil, func(actionCtx context.Context, attempt int) (interface{}, error) {
				return callProvider(actionCtx, provider, messages, specs, ec)
			})
			if err != nil {
				return err
			}
			out = result.(model.ChatOut)
			return nil
		})
	}()
	if breakerErr != nil {
		return nil, engine.Adapt(breakerErr, ctx)
	}

	if ec.CostTracker != nil {
		modelName := getString(node.Data, "model")
		if modelName == "" {
			modelName = providerName
		}
		inTok, outTok := estimateTokens(messages, out.Text)
		ec.CostTracker.RecordLLMCall(modelName, node.NodeID, inTok, outTok)
	}

	calls := make([]map[string]interface{}, 0, len(out.ToolCalls))
	for _, c := range out.ToolCalls {
		entry := map[string]interface{}{"name": c.Name, "input": c.Input}
		if t, ok := a.Tools[c.Name]; ok {
			result, err := t.Call(ec.Context, c.Input)
			if err != nil {
				entry["error"] = err.Error()
			} else {
				entry["result"] = result
			}
		}
		calls = append(calls, entry)
	}
	return AIResult{Text: out.Text, ToolCalls: calls, Path: engine.PathAI, Provider: providerName}, nil
}

// callProvider invokes the provider with streaming when it implements
// model.Streamer, falling back to model.ChatStreamFallback's word-by-word
// replay otherwise. Chunks are forwarded through ec.OnStream as node_stream
// events.
func callProvider(ctx context.Context, provider model.ChatModel, messages []model.Message, tools []model.ToolSpec, ec *engine.ExecContext) (interface{}, error) {
	onChunk := func(chunk string) {
		if ec.OnStream != nil {
			ec.OnStream(chunk)
		}
	}
	if streamer, ok := provider.(model.Streamer); ok {
		return streamer.ChatStream(ctx, messages, tools, onChunk)
	}
	return model.ChatStreamFallback(ctx, provider, messages, tools, onChunk)
}

// toolSpecs lists a.Tools by name, offering them to the provider so it knows
// which tool calls it's allowed to request. Tool.Call's Go interface carries
// no description/schema, so only Name is populated.
func (a *AIExecutor) toolSpecs() []model.ToolSpec {
	if len(a.Tools) == 0 {
		return nil
	}
	specs := make([]model.ToolSpec, 0, len(a.Tools))
	for name := range a.Tools {
		specs = append(specs, model.ToolSpec{Name: name})
	}
	return specs
}

// buildMessages turns Data["systemPrompt"] and input into a conversation:
// an optional system message followed by one user message carrying input,
// JSON-encoded when it isn't already a string.
func buildMessages(node *engine.Node, input interface{}) []model.Message {
	var messages []model.Message
	if sp := getString(node.Data, "systemPrompt"); sp != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: sp})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: stringifyAIOutput(input)})
	return messages
}

func stringifyAIOutput(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// estimateTokens approximates token counts from character length (~4 chars
// per token) since model.ChatOut carries no provider-reported usage figures.
// A pragmatic stand-in for per-provider usage accounting, not a tokenizer.
func estimateTokens(messages []model.Message, responseText string) (input, output int) {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	input = chars / 4
	output = len(responseText) / 4
	return input, output
}

var _ engine.Executor = (*AIExecutor)(nil)
