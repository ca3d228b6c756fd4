package engine

import "time"

// Option is a functional option for configuring an Orchestrator.
//
// Functional options keep the constructor signature stable as knobs are
// added:
//
//	orch, err := engine.New(
//	    store, registry, emitterFactory,
//	    engine.WithRetryPolicy(engine.RetryPolicy{MaxAttempts: 5}),
//	    engine.WithDefaultNodeTimeout(10*time.Second),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they're applied to an Orchestrator,
// allowing validation and composition ahead of construction.
type engineConfig struct {
	opts Options
}

// Options is the struct form of engine configuration, for callers who
// prefer a single value over a chain of functional options. Both forms may
// be passed to New; later values win.
type Options struct {
	RetryPolicy       RetryPolicy
	BreakerConfig     BreakerConfig
	HybridThreshold   float64
	SandboxLimits     SandboxLimits
	NodeDefaultTimeout time.Duration
	SandboxTimeout    time.Duration
	HybridCodeTimeout time.Duration
	WebhookTimeout    time.Duration
	MaxParallelism    int
	Metrics           *PrometheusMetrics
	CostTracker       *CostTracker
	Breakers          *BreakerRegistry
}

// DefaultOptions returns the orchestrator's baseline configuration.
func DefaultOptions() Options {
	return Options{
		RetryPolicy:        DefaultRetryPolicy(),
		BreakerConfig:      DefaultBreakerConfig(),
		HybridThreshold:    DefaultHybridThreshold,
		SandboxLimits:      DefaultSandboxLimits(),
		NodeDefaultTimeout: 30 * time.Second,
		SandboxTimeout:     30 * time.Second,
		HybridCodeTimeout:  5 * time.Second,
		WebhookTimeout:     10 * time.Second,
		MaxParallelism:     0,
	}
}

// WithRetryPolicy overrides the default retry policy used by the AI
// executor. The function executor does not read it; it uses a fixed
// two-attempt policy.
//
// Default: DefaultRetryPolicy() — 3 attempts, 1s initial delay, 30s cap,
// doubling multiplier.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.RetryPolicy = p
		return nil
	}
}

// WithCircuitBreakerConfig overrides the default thresholds every named
// breaker in the registry is created with.
//
// Default: DefaultBreakerConfig() — 5 failures / 60s window, 30s reset,
// 3 successes to close, 3 concurrent half-open probes.
func WithCircuitBreakerConfig(c BreakerConfig) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.BreakerConfig = c
		return nil
	}
}

// WithBreakerRegistry supplies a specific BreakerRegistry instance instead
// of the process-wide default, useful for test isolation.
func WithBreakerRegistry(r *BreakerRegistry) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Breakers = r
		return nil
	}
}

// WithHybridThreshold sets the confidence percentage (0-100) above which
// hybrid-mode nodes prefer the generated-code path over AI.
//
// Default: 80.
func WithHybridThreshold(percent float64) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.HybridThreshold = percent
		return nil
	}
}

// WithSandboxLimits overrides the resource caps applied to sandboxed code
// execution.
//
// Default: DefaultSandboxLimits() — 128 MB memory, 30s wall clock.
func WithSandboxLimits(l SandboxLimits) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.SandboxLimits = l
		return nil
	}
}

// WithTimeouts overrides the node/sandbox/hybrid/webhook timeout knobs in
// one call; zero fields leave the corresponding default untouched.
func WithTimeouts(nodeDefault, sandbox, hybridCode, webhook time.Duration) Option {
	return func(cfg *engineConfig) error {
		if nodeDefault > 0 {
			cfg.opts.NodeDefaultTimeout = nodeDefault
		}
		if sandbox > 0 {
			cfg.opts.SandboxTimeout = sandbox
		}
		if hybridCode > 0 {
			cfg.opts.HybridCodeTimeout = hybridCode
		}
		if webhook > 0 {
			cfg.opts.WebhookTimeout = webhook
		}
		return nil
	}
}

// WithMaxParallelism bounds concurrency inside the parallel executor's
// fan-out. Zero (the default) means unbounded.
func WithMaxParallelism(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.MaxParallelism = n
		return nil
	}
}

// WithMetrics attaches a PrometheusMetrics collector. The orchestrator
// reports each node's execution latency to it; retries, breaker state,
// routing decisions, token usage and in-flight executions are not reported
// to it by the engine.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}

// WithCostTracker attaches a CostTracker; the AI executor reports token
// usage to it after every provider call.
func WithCostTracker(t *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.CostTracker = t
		return nil
	}
}

// resolveOptions applies a mix of Options values and functional Options to
// DefaultOptions(), in order, accepting both forms via a type switch.
func resolveOptions(opts ...interface{}) (Options, error) {
	cfg := &engineConfig{opts: DefaultOptions()}
	for _, o := range opts {
		switch v := o.(type) {
		case Options:
			merged := cfg.opts
			if v.RetryPolicy.MaxAttempts > 0 {
				merged.RetryPolicy = v.RetryPolicy
			}
			if v.BreakerConfig.FailureThreshold > 0 {
				merged.BreakerConfig = v.BreakerConfig
			}
			if v.HybridThreshold > 0 {
				merged.HybridThreshold = v.HybridThreshold
			}
			if v.SandboxLimits.MaxMemoryBytes > 0 {
				merged.SandboxLimits = v.SandboxLimits
			}
			if v.NodeDefaultTimeout > 0 {
				merged.NodeDefaultTimeout = v.NodeDefaultTimeout
			}
			if v.SandboxTimeout > 0 {
				merged.SandboxTimeout = v.SandboxTimeout
			}
			if v.HybridCodeTimeout > 0 {
				merged.HybridCodeTimeout = v.HybridCodeTimeout
			}
			if v.WebhookTimeout > 0 {
				merged.WebhookTimeout = v.WebhookTimeout
			}
			if v.MaxParallelism > 0 {
				merged.MaxParallelism = v.MaxParallelism
			}
			if v.Metrics != nil {
				merged.Metrics = v.Metrics
			}
			if v.CostTracker != nil {
				merged.CostTracker = v.CostTracker
			}
			if v.Breakers != nil {
				merged.Breakers = v.Breakers
			}
			cfg.opts = merged
		case Option:
			if err := v(cfg); err != nil {
				return Options{}, err
			}
		default:
			return Options{}, New(KindValidationFailed, "unsupported option type passed to New", Context{})
		}
	}
	return cfg.opts, nil
}
