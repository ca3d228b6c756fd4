package engine

import "testing"

func TestFallbackTracker_RecordDecisionCapturesPatternAndConfidence(t *testing.T) {
	tr := NewFallbackTracker()
	tr.RecordDecision("n1", RoutingDecision{Mode: ModeHybrid, Path: PathCode, MatchedPattern: "billing", Confidence: 91})

	records := tr.For("n1")
	if len(records) != 1 {
		t.Fatalf("expected one record for n1, got %d", len(records))
	}
	if records[0].PatternMatched != "billing" || records[0].MatchConfidence != 91 {
		t.Errorf("expected the decision's pattern/confidence to be copied onto the record, got %+v", records[0])
	}
	if records[0].FellBack {
		t.Error("expected a plain decision to not be marked as a fallback")
	}
}

func TestFallbackTracker_RecordFallbackUpdatesMostRecentRecordForNode(t *testing.T) {
	tr := NewFallbackTracker()
	tr.RecordDecision("n1", RoutingDecision{Mode: ModeHybrid, Path: PathCode})
	tr.RecordFallback("n1", "sandbox timed out")

	records := tr.For("n1")
	if len(records) != 1 {
		t.Fatalf("expected RecordFallback to update the existing record rather than append, got %d", len(records))
	}
	if !records[0].FellBack || records[0].FallbackReason != "sandbox timed out" {
		t.Errorf("expected the existing record to be marked fallen-back with its reason, got %+v", records[0])
	}
}

func TestFallbackTracker_RecordFallbackWithoutPriorDecisionAppends(t *testing.T) {
	tr := NewFallbackTracker()
	tr.RecordFallback("n1", "no decision was ever recorded")

	records := tr.For("n1")
	if len(records) != 1 || !records[0].FellBack {
		t.Fatalf("expected a standalone fallback record to be created, got %+v", records)
	}
}

func TestFallbackTracker_ForFiltersByNodeInRecordingOrder(t *testing.T) {
	tr := NewFallbackTracker()
	tr.RecordDecision("n1", RoutingDecision{Path: PathAI})
	tr.RecordDecision("n2", RoutingDecision{Path: PathCode})
	tr.RecordDecision("n1", RoutingDecision{Path: PathCode})

	records := tr.For("n1")
	if len(records) != 2 {
		t.Fatalf("expected two records for n1, got %d", len(records))
	}
	if records[0].Decision.Path != PathAI || records[1].Decision.Path != PathCode {
		t.Errorf("expected n1's records in recording order, got %+v", records)
	}

	if len(tr.For("n3")) != 0 {
		t.Error("expected no records for a node that never ran")
	}
}

func TestFallbackTracker_AllReturnsEveryRecordAcrossNodes(t *testing.T) {
	tr := NewFallbackTracker()
	tr.RecordDecision("n1", RoutingDecision{Path: PathAI})
	tr.RecordDecision("n2", RoutingDecision{Path: PathCode})

	all := tr.All()
	if len(all) != 2 {
		t.Fatalf("expected two total records, got %d", len(all))
	}
}

func TestFallbackTracker_AllReturnsACopy(t *testing.T) {
	tr := NewFallbackTracker()
	tr.RecordDecision("n1", RoutingDecision{Path: PathAI})

	all := tr.All()
	all[0].NodeID = "mutated"

	if tr.For("n1")[0].NodeID != "n1" {
		t.Error("expected All() to return a defensive copy, not the tracker's backing slice")
	}
}
