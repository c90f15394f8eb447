package telemetry

import (
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSkillAttributes(t *testing.T) {
	attrs := SkillAttributes("deep_research", "assistant", "released")
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}
	v, ok := attrValue(attrs, AttrSkillName)
	if !ok || v.AsString() != "deep_research" {
		t.Fatalf("skill name attribute missing or wrong: %v", v)
	}
	if v, _ := attrValue(attrs, AttrSkillMode); v.AsString() != "released" {
		t.Fatalf("mode attribute wrong: %v", v)
	}
}

func TestNodeAttributes(t *testing.T) {
	attrs := NodeAttributes("node-7", "llm", "deep_research", "run-42")
	if v, _ := attrValue(attrs, AttrNodeKind); v.AsString() != "llm" {
		t.Fatalf("node kind wrong: %v", v)
	}
	if v, _ := attrValue(attrs, AttrRunID); v.AsString() != "run-42" {
		t.Fatalf("run id wrong: %v", v)
	}
}

func TestToolCallArgsResultTruncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	attrs := ToolCallArgsResult(long, long, 100)
	for _, kv := range attrs {
		if got := len(kv.Value.AsString()); got > 103 {
			t.Fatalf("attribute %s not truncated: len=%d", kv.Key, got)
		}
	}
}

func TestToolCallArgsResultShortValuesUntouched(t *testing.T) {
	attrs := ToolCallArgsResult(`{"q":"go"}`, "ok", 100)
	if v, _ := attrValue(attrs, AttrToolArgs); v.AsString() != `{"q":"go"}` {
		t.Fatalf("args altered: %v", v)
	}
	if v, _ := attrValue(attrs, AttrToolResult); v.AsString() != "ok" {
		t.Fatalf("result altered: %v", v)
	}
}

func TestLLMUsageAttributes(t *testing.T) {
	attrs := LLMUsageAttributes(120, 48, 830, "stop")
	if v, _ := attrValue(attrs, AttrLLMTokensInput); v.AsInt64() != 120 {
		t.Fatalf("input tokens wrong: %v", v)
	}
	if v, _ := attrValue(attrs, AttrLLMTokensTotal); v.AsInt64() != 168 {
		t.Fatalf("total tokens wrong: %v", v)
	}
	if v, _ := attrValue(attrs, AttrLLMFinishReason); v.AsString() != "stop" {
		t.Fatalf("finish reason wrong: %v", v)
	}
}
