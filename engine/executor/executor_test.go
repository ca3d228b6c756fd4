package executor

import (
	"context"
	"testing"

	"github.com/flowcraft/flowengine/engine"
)

func TestGetNestedValue(t *testing.T) {
	data := map[string]interface{}{
		"a": map[string]interface{}{
			"b": []interface{}{
				map[string]interface{}{"c": "found"},
			},
		},
	}
	if v := getNestedValue(data, "a.b.0.c"); v != "found" {
		t.Errorf("getNestedValue = %v, want %q", v, "found")
	}
	if v := getNestedValue(data, "a.missing"); v != nil {
		t.Errorf("getNestedValue for missing path = %v, want nil", v)
	}
	if v := getNestedValue(data, ""); v == nil {
		t.Error("getNestedValue with empty path should return input unchanged")
	}
	if v := getNestedValue(data, "a.b.99.c"); v != nil {
		t.Errorf("out-of-range index should return nil, got %v", v)
	}
}

func TestGetStringFloatInt(t *testing.T) {
	data := map[string]interface{}{
		"name":  "widget",
		"count": float64(7),
		"wrong": 42,
	}
	if s := getString(data, "name"); s != "widget" {
		t.Errorf("getString = %q", s)
	}
	if s := getString(data, "count"); s != "" {
		t.Errorf("getString on non-string field should return empty, got %q", s)
	}
	if n := getInt(data, "count", -1); n != 7 {
		t.Errorf("getInt = %d, want 7", n)
	}
	if n := getInt(data, "missing", 9); n != 9 {
		t.Errorf("getInt fallback = %d, want 9", n)
	}
}

func TestWrapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ec := &engine.ExecContext{Context: ctx}
	if e := wrapCancelled(ec, "n1"); e != nil {
		t.Errorf("expected nil before cancellation, got %v", e)
	}
	cancel()
	e := wrapCancelled(ec, "n1")
	if e == nil || e.Kind != engine.KindExecutionCancelled {
		t.Errorf("expected EXECUTION_CANCELLED after cancel, got %v", e)
	}
}
