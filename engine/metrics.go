package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes the engine's execution counters and histograms,
// namespaced "flowengine". All methods are safe for concurrent use.
//
// Metrics exposed:
//  1. inflight_executions (gauge): executions currently running.
//  2. node_latency_ms (histogram): per-node duration, labeled
//     execution_id/node_id/status. Buckets: [1,5,10,50,100,500,1000,5000,10000].
//  3. retries_total (counter): retry attempts, labeled node_id/reason.
//  4. breaker_state (gauge): 0=CLOSED, 1=HALF_OPEN, 2=OPEN, labeled breaker.
//  5. hybrid_routing_total (counter): routing decisions, labeled
//     node_id/path/mode.
//  6. tokens_total (counter): token usage, labeled execution_id/direction
//     (input/output).
type PrometheusMetrics struct {
	inflightExecutions prometheus.Gauge
	nodeLatency        *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	hybridRouting      *prometheus.CounterVec
	tokens             *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers every flowengine metric against registry.
// A nil registry falls back to prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.inflightExecutions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowengine",
		Name:      "inflight_executions",
		Help:      "Number of flow executions currently running",
	})

	pm.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowengine",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"execution_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowengine",
		Name:      "retries_total",
		Help:      "Cumulative retry attempts across all node invocations",
	}, []string{"node_id", "reason"})

	pm.breakerState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowengine",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0=CLOSED, 1=HALF_OPEN, 2=OPEN",
	}, []string{"breaker"})

	pm.hybridRouting = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowengine",
		Name:      "hybrid_routing_total",
		Help:      "Hybrid/ab_test routing decisions by resolved path",
	}, []string{"node_id", "path", "mode"})

	pm.tokens = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowengine",
		Name:      "tokens_total",
		Help:      "Token usage by direction",
	}, []string{"execution_id", "direction"})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordNodeLatency observes a node's execution duration.
func (pm *PrometheusMetrics) RecordNodeLatency(executionID, nodeID string, d time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.nodeLatency.WithLabelValues(executionID, nodeID, status).Observe(float64(d.Milliseconds()))
}

// IncRetries increments the retry counter for a node/reason pair.
func (pm *PrometheusMetrics) IncRetries(nodeID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(nodeID, reason).Inc()
}

// SetBreakerState publishes the current numeric state for a named breaker.
func (pm *PrometheusMetrics) SetBreakerState(name string, state BreakerState) {
	if !pm.isEnabled() {
		return
	}
	var v float64
	switch state {
	case StateClosed:
		v = 0
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	pm.breakerState.WithLabelValues(name).Set(v)
}

// IncHybridRouting records one routing decision's resolved path.
func (pm *PrometheusMetrics) IncHybridRouting(nodeID string, path ExecutionPath, mode ExecutionMode) {
	if !pm.isEnabled() {
		return
	}
	pm.hybridRouting.WithLabelValues(nodeID, string(path), string(mode)).Inc()
}

// AddTokens records token usage for an execution in the given direction
// ("input" or "output").
func (pm *PrometheusMetrics) AddTokens(executionID, direction string, count int64) {
	if !pm.isEnabled() || count <= 0 {
		return
	}
	pm.tokens.WithLabelValues(executionID, direction).Add(float64(count))
}

// SetInflightExecutions publishes the current running-execution count.
func (pm *PrometheusMetrics) SetInflightExecutions(n int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightExecutions.Set(float64(n))
}

// Disable stops metric recording (useful for tests exercising a shared
// registry).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
