package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// ExecutionMode is a node's configured AI/code routing strategy.
type ExecutionMode string

const (
	ModeAIOnly   ExecutionMode = "ai_only"
	ModeCodeOnly ExecutionMode = "code_only"
	ModeHybrid   ExecutionMode = "hybrid"
	ModeABTest   ExecutionMode = "ab_test"
)

// ExecutionPath is the path a RoutingDecision resolved to.
type ExecutionPath string

const (
	PathAI   ExecutionPath = "ai"
	PathCode ExecutionPath = "code"
)

// DefaultHybridThreshold is the confidence percentage (0-100) above which
// hybrid mode prefers the generated-code path.
const DefaultHybridThreshold = 80

// RoutingDecision is C6's output, consumed by the AI executor to pick a
// path and by the fallback tracker (C10) to record why.
type RoutingDecision struct {
	Mode           ExecutionMode
	Path           ExecutionPath
	Reason         string
	Confidence     float64
	MatchedPattern string
}

// codePattern is one extracted conditional from generated code: either a
// switch/case literal or an if/else-style condition description.
type codePattern struct {
	isSwitchCase bool
	caseValue    string
}

var (
	switchCaseRe = regexp.MustCompile(`(?m)^\s*case\s+['"]?([\w.-]+)['"]?\s*:`)
	condRe       = regexp.MustCompile(`(?m)\b(?:if|else\s+if)\s*\(([^)]*)\)`)
)

// extractPatterns scans a generated-code string for switch-case labels and
// if/else-if conditions; a regex test or typeof guard is picked up only as
// part of such a condition. This is a best-effort static scan,
// not a parser: it looks for these literal syntactic shapes to compute a
// match-confidence heuristic, never to execute code.
func extractPatterns(code string) []codePattern {
	var patterns []codePattern
	for _, m := range switchCaseRe.FindAllStringSubmatch(code, -1) {
		patterns = append(patterns, codePattern{isSwitchCase: true, caseValue: m[1]})
	}
	for range condRe.FindAllStringSubmatch(code, -1) {
		patterns = append(patterns, codePattern{})
	}
	return patterns
}

// matchConfidence scores how well input matches the patterns extracted from
// generatedCode: a matching switch-case scores 95; otherwise the fraction of
// matched conditions times a 90 base when all match, scaled proportionally
// otherwise.
func matchConfidence(patterns []codePattern, input interface{}) (float64, string) {
	if len(patterns) == 0 {
		return 0, ""
	}

	inputStr := stringifyForMatch(input)

	for _, p := range patterns {
		if p.isSwitchCase && strings.EqualFold(p.caseValue, inputStr) {
			return 95, p.caseValue
		}
	}

	total := 0
	matched := 0
	for _, p := range patterns {
		if p.isSwitchCase {
			continue
		}
		total++
		if inputStr != "" {
			matched++
		}
	}
	if total == 0 {
		return 0, ""
	}
	if matched == total {
		return 90, ""
	}
	return (float64(matched) / float64(total)) * 90, ""
}

func stringifyForMatch(input interface{}) string {
	switch v := input.(type) {
	case string:
		return v
	case map[string]interface{}:
		if s, ok := v["value"].(string); ok {
			return s
		}
	}
	return ""
}

// djb2 computes the classic djb2 hash of s, used for deterministic ab_test
// bucketing: the same node/block ID always lands in the same bucket.
func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) + uint32(s[i])
	}
	return h
}

// Route computes the RoutingDecision for a node given its executionMode,
// generated code (if any), and input. blockID seeds the ab_test bucketing
// hash so the same node always buckets identically.
func Route(mode ExecutionMode, blockID, generatedCode string, input interface{}, thresholdPercent float64) RoutingDecision {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultHybridThreshold
	}

	switch mode {
	case ModeAIOnly, "":
		return RoutingDecision{Mode: ModeAIOnly, Path: PathAI, Reason: "ai_only mode"}

	case ModeCodeOnly:
		if generatedCode != "" {
			return RoutingDecision{Mode: ModeCodeOnly, Path: PathCode, Reason: "code_only mode with generated code"}
		}
		return RoutingDecision{Mode: ModeCodeOnly, Path: PathAI, Reason: "code_only mode but no generated code available"}

	case ModeHybrid:
		patterns := extractPatterns(generatedCode)
		confidence, matched := matchConfidence(patterns, input)
		if confidence >= thresholdPercent {
			return RoutingDecision{
				Mode: ModeHybrid, Path: PathCode,
				Reason: "pattern match confidence " + strconv.FormatFloat(confidence, 'f', 1, 64) +
					" >= threshold " + strconv.FormatFloat(thresholdPercent, 'f', 1, 64),
				Confidence: confidence, MatchedPattern: matched,
			}
		}
		return RoutingDecision{
			Mode: ModeHybrid, Path: PathAI,
			Reason:     "pattern match confidence below threshold",
			Confidence: confidence,
		}

	case ModeABTest:
		bucket := djb2(blockID) % 100
		if bucket < 50 && generatedCode != "" {
			return RoutingDecision{Mode: ModeABTest, Path: PathCode, Reason: "ab_test code bucket"}
		}
		return RoutingDecision{Mode: ModeABTest, Path: PathAI, Reason: "ab_test ai bucket"}

	default:
		return RoutingDecision{Mode: mode, Path: PathAI, Reason: "unknown execution mode, defaulting to ai"}
	}
}
