package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowcraft/flowengine/engine"
	"github.com/flowcraft/flowengine/engine/sandbox"
	"github.com/flowcraft/flowengine/model"
	"github.com/flowcraft/flowengine/tool"
)

type fakeTool struct {
	name string
	out  map[string]interface{}
	err  error
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.out, f.err
}

type fakeChatModel struct {
	out model.ChatOut
	err error
}

func (f *fakeChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	return f.out, f.err
}

type fakeStreamingModel struct {
	fakeChatModel
	chunks []string
}

func (f *fakeStreamingModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onChunk func(string)) (model.ChatOut, error) {
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.out, f.err
}

func newAIExecContext() *engine.ExecContext {
	return &engine.ExecContext{
		ExecutionID: "e1", FlowID: "f1",
		Context:     context.Background(),
		RetryPolicy: engine.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Breakers:    engine.NewBreakerRegistry(engine.DefaultBreakerConfig()),
	}
}

func TestAIExecutor_AIOnlyPath(t *testing.T) {
	provider := &fakeChatModel{out: model.ChatOut{Text: "hello there"}}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, nil)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "ai_only",
		"provider":      "mock",
	}}

	out, err := exec.Execute(node, "what's the weather", newAIExecContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(AIResult)
	if result.Text != "hello there" || result.Path != engine.PathAI {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestAIExecutor_StreamsChunks(t *testing.T) {
	provider := &fakeStreamingModel{
		fakeChatModel: fakeChatModel{out: model.ChatOut{Text: "hi"}},
		chunks:        []string{"h", "i"},
	}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, nil)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "ai_only",
		"provider":      "mock",
	}}

	var seen []interface{}
	ec := newAIExecContext()
	ec.OnStream = func(chunk interface{}) { seen = append(seen, chunk) }

	if _, err := exec.Execute(node, "hi", ec); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("expected 2 streamed chunks, got %d: %+v", len(seen), seen)
	}
}

func TestAIExecutor_CodeOnlyFallsBackOnFailure(t *testing.T) {
	runner := &fakeRunner{err: sandbox.ErrRuntime}
	provider := &fakeChatModel{out: model.ChatOut{Text: "fallback answer"}}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, runner)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "code_only",
		"generatedCode": "return process(input)",
		"provider":      "mock",
	}}

	out, err := exec.Execute(node, "x", newAIExecContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(AIResult)
	if result.Text != "fallback answer" || result.Path != engine.PathAI {
		t.Errorf("expected AI fallback result, got %+v", result)
	}
}

func TestAIExecutor_CodeOnlySucceedsWithoutFallback(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{Output: "code result"}}
	exec := NewAIExecutor(map[string]model.ChatModel{}, runner)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "code_only",
		"generatedCode": "return process(input)",
	}}

	out, err := exec.Execute(node, "x", newAIExecContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(AIResult)
	if result.Path != engine.PathCode {
		t.Errorf("expected code path result, got %+v", result)
	}
}

func TestAIExecutor_UnknownProvider(t *testing.T) {
	exec := NewAIExecutor(map[string]model.ChatModel{}, nil)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "ai_only",
		"provider":      "missing",
	}}
	if _, err := exec.Execute(node, "x", newAIExecContext()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestAIExecutor_ProviderErrorAdapted(t *testing.T) {
	provider := &fakeChatModel{err: fmt.Errorf("connection refused")}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, nil)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "ai_only",
		"provider":      "mock",
	}}
	_, err := exec.Execute(node, "x", newAIExecContext())
	if err == nil {
		t.Fatal("expected error")
	}
	ee, ok := err.(*engine.Error)
	if !ok || ee.Kind != engine.KindNetworkError {
		t.Errorf("expected adapted NETWORK_ERROR, got %v", err)
	}
}

func TestAIExecutor_InvokesConfiguredTool(t *testing.T) {
	provider := &fakeChatModel{out: model.ChatOut{
		Text: "let me check",
		ToolCalls: []model.ToolCall{
			{Name: "get_weather", Input: map[string]interface{}{"location": "SF"}},
		},
	}}
	weather := &fakeTool{name: "get_weather", out: map[string]interface{}{"temp": 72.5}}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, nil).
		WithTools(map[string]tool.Tool{"get_weather": weather})
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "ai_only",
		"provider":      "mock",
	}}

	out, err := exec.Execute(node, "what's the weather", newAIExecContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(AIResult)
	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %+v", result.ToolCalls)
	}
	res, ok := result.ToolCalls[0]["result"].(map[string]interface{})
	if !ok || res["temp"] != 72.5 {
		t.Errorf("expected tool result to be attached, got %+v", result.ToolCalls[0])
	}
}

func TestAIExecutor_ToolErrorRecorded(t *testing.T) {
	provider := &fakeChatModel{out: model.ChatOut{
		ToolCalls: []model.ToolCall{{Name: "broken", Input: nil}},
	}}
	broken := &fakeTool{name: "broken", err: fmt.Errorf("tool unavailable")}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, nil).
		WithTools(map[string]tool.Tool{"broken": broken})
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "ai_only",
		"provider":      "mock",
	}}

	out, err := exec.Execute(node, "x", newAIExecContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(AIResult)
	if result.ToolCalls[0]["error"] != "tool unavailable" {
		t.Errorf("expected tool error recorded, got %+v", result.ToolCalls[0])
	}
}

func TestFallbackTrackerRecordsDecisionAndFallback(t *testing.T) {
	runner := &fakeRunner{err: sandbox.ErrRuntime}
	provider := &fakeChatModel{out: model.ChatOut{Text: "ok"}}
	exec := NewAIExecutor(map[string]model.ChatModel{"mock": provider}, runner)
	node := &engine.Node{NodeID: "ai1", Kind: engine.KindAINode, Data: map[string]interface{}{
		"executionMode": "code_only",
		"generatedCode": "return process(input)",
		"provider":      "mock",
	}}

	ec := newAIExecContext()
	ec.Fallback = engine.NewFallbackTracker()
	if _, err := exec.Execute(node, "x", ec); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	records := ec.Fallback.For("ai1")
	if len(records) != 1 || !records[0].FellBack {
		t.Errorf("expected one fallback record, got %+v", records)
	}
}
