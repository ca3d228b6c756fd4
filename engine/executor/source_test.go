package executor

import (
	"context"
	"testing"
	"time"

	"github.com/flowcraft/flowengine/engine"
)

func TestSourceExecutor_ManualTrigger(t *testing.T) {
	s := NewSourceExecutor()
	node := &engine.Node{NodeID: "src1", Kind: engine.KindSourceNode}
	ec := &engine.ExecContext{
		Context:   context.Background(),
		FlowInput: map[string]interface{}{"ticket": 42},
		Trigger:   engine.Trigger{Kind: engine.TriggerManual},
	}

	out, err := s.Execute(node, nil, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := out.(map[string]interface{})
	trigger := result["trigger"].(map[string]interface{})
	if trigger["kind"] != "manual" {
		t.Errorf("expected manual trigger kind, got %+v", trigger)
	}
	input := result["input"].(map[string]interface{})
	if input["ticket"] != 42 {
		t.Errorf("expected flow input passed through, got %+v", input)
	}
}

func TestSourceExecutor_WebhookTrigger(t *testing.T) {
	s := NewSourceExecutor()
	node := &engine.Node{NodeID: "src1", Kind: engine.KindSourceNode}
	ec := &engine.ExecContext{
		Context: context.Background(),
		Trigger: engine.Trigger{Kind: engine.TriggerWebhook, RequestID: "/hooks/incoming"},
	}

	out, err := s.Execute(node, nil, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	trigger := out.(map[string]interface{})["trigger"].(map[string]interface{})
	if trigger["path"] != "/hooks/incoming" {
		t.Errorf("expected webhook path annotation, got %+v", trigger)
	}
}

func TestSourceExecutor_ScheduleTrigger(t *testing.T) {
	s := NewSourceExecutor()
	node := &engine.Node{NodeID: "src1", Kind: engine.KindSourceNode}
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ec := &engine.ExecContext{
		Context: context.Background(),
		Trigger: engine.Trigger{Kind: engine.TriggerSchedule, ScheduledAt: at},
	}

	out, err := s.Execute(node, nil, ec)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	trigger := out.(map[string]interface{})["trigger"].(map[string]interface{})
	if trigger["scheduledAt"] != at {
		t.Errorf("expected scheduledAt annotation, got %+v", trigger)
	}
}

func TestSourceExecutor_RespectsCancellation(t *testing.T) {
	s := NewSourceExecutor()
	node := &engine.Node{NodeID: "src1", Kind: engine.KindSourceNode}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec := &engine.ExecContext{Context: ctx}

	if _, err := s.Execute(node, nil, ec); err == nil {
		t.Error("expected EXECUTION_CANCELLED after context cancellation")
	}
}
