package engine

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing is the per-million-token cost of one model.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the model families the bundled provider
// adapters (model/anthropic, model/openai, model/google) talk to. Prices
// are USD per 1M tokens, current as of the adapters' default model
// selections; update as providers adjust pricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":             {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":         {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":         {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":       {InputPer1M: 0.50, OutputPer1M: 1.50},

	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall is one recorded provider invocation, attributed to a node.
type LLMCall struct {
	Model        string
	NodeID       string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker aggregates token usage and dollar cost across every AI node
// invocation in a single execution. It keeps its own totals only: it does
// not update the execution's Metrics, and nothing in the engine calls
// StateMachine.AddTokens, so Metrics' token counters stay at zero.
type CostTracker struct {
	mu sync.RWMutex

	ExecutionID string
	Currency    string
	Pricing     map[string]ModelPricing

	calls      []LLMCall
	totalCost  float64
	modelCosts map[string]float64

	enabled bool
}

// NewCostTracker returns a tracker scoped to one execution, seeded with the
// bundled providers' default pricing table.
func NewCostTracker(executionID, currency string) *CostTracker {
	if currency == "" {
		currency = "USD"
	}
	return &CostTracker{
		ExecutionID: executionID,
		Currency:    currency,
		Pricing:     defaultModelPricing,
		modelCosts:  make(map[string]float64),
		enabled:     true,
	}
}

// RecordLLMCall logs one provider call's token usage, computing cost from
// the pricing table (zero cost for unrecognized models, recorded anyway).
func (ct *CostTracker) RecordLLMCall(model, nodeID string, inputTokens, outputTokens int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !ct.enabled {
		return
	}

	pricing := ct.Pricing[model]
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		Model: model, NodeID: nodeID,
		InputTokens: inputTokens, OutputTokens: outputTokens,
		CostUSD: cost, Timestamp: time.Now(),
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
}

// TotalCost returns the cumulative cost recorded so far.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.modelCosts))
	for k, v := range ct.modelCosts {
		out[k] = v
	}
	return out
}

// Calls returns a copy of the recorded call history, in order.
func (ct *CostTracker) Calls() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]LLMCall, len(ct.calls))
	copy(out, ct.calls)
	return out
}

// SetPricing overrides (or adds) pricing for a model, for custom
// deployments or price updates.
func (ct *CostTracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.Pricing == nil {
		ct.Pricing = make(map[string]ModelPricing)
	}
	ct.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops further recording (tests).
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording after Disable.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{execution: %s, calls: %d, total: $%.4f %s}",
		ct.ExecutionID, len(ct.calls), ct.totalCost, ct.Currency)
}
