// Package sandbox defines the contract for executing a single block of
// user-supplied code with one input value and returning its result.
// It is deliberately self-contained: nothing here imports the engine
// package, so engine/executor can depend on both without a cycle, adapting
// sandbox errors to engine.Error at the point of use.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Limits bounds one Run call's resource usage.
type Limits struct {
	// MaxMemoryBytes is a soft cap enforced on a best-effort basis by the
	// Runner implementation (e.g. a subprocess rlimit); breach surfaces as
	// ErrResourceExhausted.
	MaxMemoryBytes int64
	// Timeout is the hard wall-clock limit; breach surfaces as ErrTimeout.
	Timeout time.Duration
}

// DefaultLimits matches the engine default: 128 MB, 30s.
func DefaultLimits() Limits {
	return Limits{MaxMemoryBytes: 128 * 1024 * 1024, Timeout: 30 * time.Second}
}

// HybridCodeLimits matches the tighter 5s budget the hybrid routing path
// gives a generated-code candidate before it would have fallen back to AI
// anyway.
func HybridCodeLimits() Limits {
	l := DefaultLimits()
	l.Timeout = 5 * time.Second
	return l
}

// Sentinel errors a Runner returns so callers can classify failures without
// depending on this package's concrete error types. These are plain,
// package-local sentinels, not engine.Error, by design (see package doc).
var (
	// ErrCompile indicates the code failed to parse/compile — the caller
	// should surface this as a validation failure, not a retryable one.
	ErrCompile = errors.New("sandbox: compile error")
	// ErrRuntime indicates the code raised during execution.
	ErrRuntime = errors.New("sandbox: runtime error")
	// ErrTimeout indicates the run exceeded its wall-clock Limits.Timeout.
	ErrTimeout = errors.New("sandbox: timeout")
	// ErrResourceExhausted indicates the run exceeded Limits.MaxMemoryBytes
	// or another enforced resource bound.
	ErrResourceExhausted = errors.New("sandbox: resource exhausted")
)

// Result is the outcome of one Run call.
type Result struct {
	// Output is the parsed return value (JSON-decoded), or nil if the code
	// returned no value.
	Output interface{}
	// Stdout/Stderr capture any diagnostic output the implementation chose
	// to collect, for inclusion in node_error payloads.
	Stdout string
	Stderr string
}

// Runner executes one code string against one input value, isolated from
// the host process, filesystem, network, and environment. Implementations
// decide the isolation mechanism
// (subprocess with resource limits, WASM, embedded isolate); callers only
// depend on this interface and the sentinel errors above.
type Runner interface {
	Run(ctx context.Context, code string, input interface{}, limits Limits) (Result, error)
}
