package executor

import (
	"database/sql"

	"github.com/flowcraft/flowengine/engine"
	"github.com/flowcraft/flowengine/engine/sandbox"
	"github.com/flowcraft/flowengine/model"
	"github.com/flowcraft/flowengine/tool"
)

// NewDefaultRegistry wires one Executor per engine.NodeKind into a
// fresh engine.Registry: source, ai, function, router, parallel, loop, and
// sink. providers keys a model.ChatModel by the name an ai node's
// Data["provider"] references; runner backs both the function executor's
// sandbox path and the ai executor's hybrid code path; db backs the sink
// executor's "database" variant (nil disables it); tools keys a tool.Tool
// by name for the ai executor to invoke on ToolCalls (nil leaves tool calls
// unexecuted).
func NewDefaultRegistry(providers map[string]model.ChatModel, runner sandbox.Runner, db *sql.DB, tools map[string]tool.Tool) *engine.Registry {
	reg := engine.NewRegistry()
	reg.Register(engine.KindSourceNode, NewSourceExecutor())
	reg.Register(engine.KindAINode, NewAIExecutor(providers, runner).WithTools(tools))
	reg.Register(engine.KindFunctionNode, NewFunctionExecutor(runner))
	reg.Register(engine.KindRouterNode, NewRouterExecutor(nil))
	reg.Register(engine.KindParallelNode, NewParallelExecutor())
	reg.Register(engine.KindLoopNode, NewLoopExecutor())
	reg.Register(engine.KindSinkNode, NewSinkExecutor(db))
	return reg
}
