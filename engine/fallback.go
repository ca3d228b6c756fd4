package engine

import "sync"

// FallbackRecord captures which path a hybrid-routed node actually took and
// why, including the case where the code path was attempted and failed
// over to AI.
type FallbackRecord struct {
	NodeID          string
	Decision        RoutingDecision
	FellBack        bool
	FallbackReason  string
	PatternMatched  string
	MatchConfidence float64
}

// FallbackTracker (C10) records which execution path ran for each node and
// why, for surfacing through BlockExecution rows. One tracker is scoped to
// a single execution.
type FallbackTracker struct {
	mu      sync.Mutex
	records []FallbackRecord
}

// NewFallbackTracker returns an empty tracker.
func NewFallbackTracker() *FallbackTracker {
	return &FallbackTracker{}
}

// RecordDecision logs a routing decision before the chosen path executes.
func (t *FallbackTracker) RecordDecision(nodeID string, d RoutingDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, FallbackRecord{
		NodeID:          nodeID,
		Decision:        d,
		PatternMatched:  d.MatchedPattern,
		MatchConfidence: d.Confidence,
	})
}

// RecordFallback marks the most recent decision for nodeID as having
// fallen back from code to AI, with reason explaining the code-path
// failure that triggered it.
func (t *FallbackTracker) RecordFallback(nodeID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.records) - 1; i >= 0; i-- {
		if t.records[i].NodeID == nodeID {
			t.records[i].FellBack = true
			t.records[i].FallbackReason = reason
			return
		}
	}
	t.records = append(t.records, FallbackRecord{NodeID: nodeID, FellBack: true, FallbackReason: reason})
}

// For returns the recorded fallback history for a node, in recording order.
func (t *FallbackTracker) For(nodeID string) []FallbackRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []FallbackRecord
	for _, r := range t.records {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// All returns every recorded decision across the execution.
func (t *FallbackTracker) All() []FallbackRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FallbackRecord, len(t.records))
	copy(out, t.records)
	return out
}
