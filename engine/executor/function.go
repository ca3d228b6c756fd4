package executor

import (
	"context"
	"errors"

	"github.com/flowcraft/flowengine/engine"
	"github.com/flowcraft/flowengine/engine/sandbox"
)

// FunctionExecutor implements engine.Executor for engine.KindFunctionNode:
// load the block's code, confirm presence, invoke the sandbox wrapped with
// the retry policy (maxAttempts=2), and map sandbox failures to typed
// errors carrying node context.
type FunctionExecutor struct {
	Runner sandbox.Runner
	Limits sandbox.Limits
}

// NewFunctionExecutor returns a function executor backed by runner.
func NewFunctionExecutor(runner sandbox.Runner) *FunctionExecutor {
	return &FunctionExecutor{Runner: runner, Limits: sandbox.DefaultLimits()}
}

// Execute runs node.Data["code"] against input inside the sandbox.
func (f *FunctionExecutor) Execute(node *engine.Node, input interface{}, ec *engine.ExecContext) (interface{}, error) {
	if e := wrapCancelled(ec, node.NodeID); e != nil {
		return nil, e
	}
	ctx := errContext(ec, node.NodeID)

	code := getString(node.Data, "code")
	if code == "" {
		return nil, engine.New(engine.KindValidationFailed, "function node has no code", ctx)
	}

	policy := engine.RetryPolicy{MaxAttempts: 2, InitialDelay: engine.DefaultRetryPolicy().InitialDelay,
		MaxDelay: engine.DefaultRetryPolicy().MaxDelay, Multiplier: engine.DefaultRetryPolicy().Multiplier}

	result, err := engine.Do(ec.Context, policy, ctx, nil, func(actionCtx context.Context, attempt int) (interface{}, error) {
		res, runErr := f.Runner.Run(actionCtx, code, input, f.Limits)
		if runErr != nil {
			return nil, adaptSandboxErr(runErr, ctx)
		}
		return res, nil
	})
	if err != nil {
		return nil, adaptSandboxErr(err, ctx)
	}
	return result.(sandbox.Result).Output, nil
}

// adaptSandboxErr classifies a sandbox.Runner error into the engine's
// closed taxonomy: compile failures are VALIDATION_FAILED, runtime
// failures EXECUTION_FAILED, timeouts TIMEOUT, and resource breaches
// RESOURCE_EXHAUSTED.
func adaptSandboxErr(err error, ctx engine.Context) *engine.Error {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee
	}
	switch {
	case errors.Is(err, sandbox.ErrCompile):
		return engine.Wrap(engine.KindValidationFailed, err, ctx)
	case errors.Is(err, sandbox.ErrTimeout):
		return engine.Wrap(engine.KindTimeout, err, ctx)
	case errors.Is(err, sandbox.ErrResourceExhausted):
		return engine.Wrap(engine.KindResourceExhausted, err, ctx)
	default:
		return engine.Wrap(engine.KindExecutionFailed, err, ctx)
	}
}

var _ engine.Executor = (*FunctionExecutor)(nil)
