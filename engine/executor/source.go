package executor

import "github.com/flowcraft/flowengine/engine"

// SourceExecutor implements engine.Executor for engine.KindSourceNode: it
// passes ctx.FlowInput through unchanged, annotated with the trigger
// metadata that started the execution: its kind, plus the trigger's
// RequestID as "path" for a webhook and its ScheduledAt as "scheduledAt"
// for a schedule. No cron expression is carried.
type SourceExecutor struct{}

// NewSourceExecutor returns a stateless source executor.
func NewSourceExecutor() *SourceExecutor { return &SourceExecutor{} }

// Execute returns {input, trigger} where trigger mirrors ec.Trigger.
func (s *SourceExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}

	trigger := map[string]interface{}{
		"kind": string(ec.Trigger.Kind),
	}
	switch ec.Trigger.Kind {
	case engine.TriggerWebhook:
		trigger["path"] = ec.Trigger.RequestID
	case engine.TriggerSchedule:
		trigger["scheduledAt"] = ec.Trigger.ScheduledAt
	}

	return map[string]interface{}{
		"input":   ec.FlowInput,
		"trigger": trigger,
	}, nil
}

var _ engine.Executor = (*SourceExecutor)(nil)
