// Package engine implements the flow execution engine: DAG compilation,
// topological driving, node dispatch, and the resilience contracts
// (retry, circuit breaker, timeout) that guard external calls.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the closed set of error classifications the engine reasons about.
//
// Every error the engine raises, retries, or surfaces to a caller carries one
// of these kinds. Node executors and provider adapters translate raw errors
// (HTTP status codes, driver errors, panics) into a Kind via Adapt so that
// retry policy, circuit breaker accounting, and user-facing messages can be
// driven off a single closed taxonomy rather than string matching scattered
// across the codebase.
type Kind string

const (
	KindUnknown             Kind = "UNKNOWN"
	KindExecutionFailed     Kind = "EXECUTION_FAILED"
	KindValidationFailed    Kind = "VALIDATION_FAILED"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindInvalidOutput       Kind = "INVALID_OUTPUT"
	KindSchemaMismatch      Kind = "SCHEMA_MISMATCH"
	KindProviderError       Kind = "PROVIDER_ERROR"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindProviderRateLimit   Kind = "PROVIDER_RATE_LIMIT"
	KindProviderAuthFailed  Kind = "PROVIDER_AUTH_FAILED"
	KindProviderInvalidReq  Kind = "PROVIDER_INVALID_REQUEST"
	KindTimeout             Kind = "TIMEOUT"
	KindExecutionTimeout    Kind = "EXECUTION_TIMEOUT"
	KindNetworkError        Kind = "NETWORK_ERROR"
	KindConnectionFailed    Kind = "CONNECTION_FAILED"
	KindResourceNotFound    Kind = "RESOURCE_NOT_FOUND"
	KindResourceExhausted   Kind = "RESOURCE_EXHAUSTED"
	KindNodeNotFound        Kind = "NODE_NOT_FOUND"
	KindExecutorNotFound    Kind = "EXECUTOR_NOT_FOUND"
	KindExecutionCancelled  Kind = "EXECUTION_CANCELLED"
	KindCircuitOpen         Kind = "CIRCUIT_OPEN"
)

// Context carries structured, queryable detail about where and when an Error
// occurred. Fields are populated opportunistically by whichever layer raises
// or rewraps the error; none are required.
type Context struct {
	NodeID      string
	FlowID      string
	ExecutionID string
	Provider    string
	Model       string
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Extra       map[string]interface{}
}

// Error is the engine's single structured error type. It is returned by
// every engine-owned operation (compile, drive, node dispatch, retry,
// breaker) so that callers can branch on Kind without parsing messages.
type Error struct {
	Message string
	Kind    Kind
	Context Context

	// Provider and StatusCode are populated for PROVIDER_* kinds.
	Provider   string
	StatusCode int

	// Issues is populated for VALIDATION_FAILED / SCHEMA_MISMATCH.
	Issues []FieldIssue

	// TimeoutMs is populated for TIMEOUT / EXECUTION_TIMEOUT.
	TimeoutMs int64

	// BreakerName is populated for CIRCUIT_OPEN.
	BreakerName string

	// Cause is the underlying error, if any, preserved for %w unwrapping.
	Cause error
}

// FieldIssue describes one field-level validation failure.
type FieldIssue struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Context.NodeID != "" {
		fmt.Fprintf(&b, " (node=%s)", e.Context.NodeID)
	}
	return b.String()
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the retry engine (C2) should attempt this
// error again. Kinds not listed here are treated as terminal.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindNetworkError, KindConnectionFailed, KindProviderRateLimit,
		KindProviderUnavailable, KindTimeout, KindExecutionTimeout,
		KindResourceExhausted:
		return true
	default:
		return false
	}
}

// GetUserMessage renders a message safe to show directly to an end user,
// stripped of internal context (node IDs, provider internals, stack-adjacent
// detail).
func (e *Error) GetUserMessage() string {
	switch e.Kind {
	case KindProviderAuthFailed:
		return "The AI provider rejected the request credentials."
	case KindProviderRateLimit:
		return "The AI provider is rate-limiting requests; please retry shortly."
	case KindProviderUnavailable:
		return "The AI provider is temporarily unavailable."
	case KindTimeout, KindExecutionTimeout:
		return "The operation took too long and was cancelled."
	case KindValidationFailed, KindSchemaMismatch, KindInvalidInput, KindInvalidOutput:
		return "The provided input did not pass validation."
	case KindExecutionCancelled:
		return "The execution was cancelled."
	case KindCircuitOpen:
		return "This service is temporarily disabled after repeated failures."
	case KindResourceNotFound, KindNodeNotFound, KindExecutorNotFound:
		return "The requested resource could not be found."
	default:
		return "The flow failed to execute."
	}
}

// GetRemediationSuggestions returns actionable hints for the Kind — terse,
// one hint per concrete corrective action.
func (e *Error) GetRemediationSuggestions() []string {
	switch e.Kind {
	case KindProviderAuthFailed:
		return []string{"verify the provider API key and connection configuration"}
	case KindProviderRateLimit:
		return []string{"retry after a short delay", "reduce request concurrency"}
	case KindProviderUnavailable, KindNetworkError, KindConnectionFailed:
		return []string{"retry later", "check provider status page"}
	case KindTimeout, KindExecutionTimeout:
		return []string{"increase the node or sandbox timeout", "simplify the operation"}
	case KindValidationFailed, KindSchemaMismatch:
		return []string{"correct the reported field issues and resubmit"}
	case KindCircuitOpen:
		return []string{"wait for the breaker reset timeout to elapse"}
	default:
		return nil
	}
}

// New constructs an Error, stamping Context.Timestamp if unset.
func New(kind Kind, message string, ctx Context) *Error {
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	return &Error{Kind: kind, Message: message, Context: ctx}
}

// Wrap adapts an arbitrary error into an Error with the given Kind, setting
// Cause so errors.Unwrap keeps working.
func Wrap(kind Kind, cause error, ctx Context) *Error {
	e := New(kind, cause.Error(), ctx)
	e.Cause = cause
	return e
}

// Adapt classifies an arbitrary error (typically surfaced by a provider SDK
// or sandbox) into the closed Kind taxonomy. It is the engine's single
// translation point from "whatever a collaborator returned" to a retryable,
// user-messaged, remediable Error.
//
// Classification order:
//  1. Already an *Error — returned unchanged.
//  2. HTTPStatusError — mapped by status code (401/403 auth, 429 rate limit,
//     4xx invalid request, 5xx unavailable).
//  3. Message substring heuristics — "timeout"/"deadline exceeded" → TIMEOUT,
//     "connection"/"network"/"dial" → NETWORK_ERROR, "cancel" →
//     EXECUTION_CANCELLED.
//  4. Fallback — EXECUTION_FAILED.
func Adapt(raw error, ctx Context) *Error {
	if raw == nil {
		return nil
	}

	var existing *Error
	if errors.As(raw, &existing) {
		return existing
	}

	var httpErr *HTTPStatusError
	if errors.As(raw, &httpErr) {
		kind := classifyStatus(httpErr.StatusCode)
		e := Wrap(kind, raw, ctx)
		e.Provider = httpErr.Provider
		e.StatusCode = httpErr.StatusCode
		return e
	}

	msg := strings.ToLower(raw.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Wrap(KindTimeout, raw, ctx)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dial"):
		return Wrap(KindNetworkError, raw, ctx)
	case strings.Contains(msg, "cancel"):
		return Wrap(KindExecutionCancelled, raw, ctx)
	default:
		return Wrap(KindExecutionFailed, raw, ctx)
	}
}

func classifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindProviderAuthFailed
	case status == 429:
		return KindProviderRateLimit
	case status >= 400 && status < 500:
		return KindProviderInvalidReq
	case status >= 500:
		return KindProviderUnavailable
	default:
		return KindProviderError
	}
}

// HTTPStatusError is the shape provider adapters should wrap their SDK
// errors in before calling Adapt, so status-code classification applies
// uniformly regardless of which provider raised it.
type HTTPStatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (h *HTTPStatusError) Error() string { return h.Err.Error() }
func (h *HTTPStatusError) Unwrap() error { return h.Err }

// Sentinel errors for conditions that are control-flow signals rather than
// externally classified failures.
var (
	// ErrCycle is raised by Compile when the flow's edges contain a cycle.
	ErrCycle = errors.New("flow contains cycles")
	// ErrInvalidTransition is raised by the state machine on an illegal status change.
	ErrInvalidTransition = errors.New("invalid execution state transition")
)
