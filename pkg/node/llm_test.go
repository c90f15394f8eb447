// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/llm"
	"github.com/ecanlabs/weave/pkg/state"
)

func llmConfig() Config {
	return Config{
		"inputsValues": map[string]any{
			"modelProvider": map[string]any{"type": "constant", "content": "openai"},
			"modelName":     map[string]any{"type": "constant", "content": "gpt-4o-mini"},
			"systemPrompt":  map[string]any{"type": "constant", "content": "You help with {topic}."},
			"prompt":        map[string]any{"type": "constant", "content": "User said: {human_text}"},
		},
	}
}

func TestLLMNodeParsesJSONResult(t *testing.T) {
	fn := NewLLMNode(llmConfig())
	st := state.New("agent", "chat", "msg", "task", "hi")
	st[state.KeyPromptRefs] = map[string]any{"topic": "sourcing", "human_text": "find LM317"}

	rc := &RunContext{
		Node: testIdentity(),
		LLM:  llm.NewScriptedMockProvider(`{"next_prompt": "which package?", "job_related": true}`),
	}
	out, err := fn(context.Background(), st, rc)
	if err != nil {
		t.Fatalf("llm node: %v", err)
	}

	result, _ := out.State[state.KeyResult].(map[string]any)
	parsed, _ := result["llm_result"].(map[string]any)
	if parsed["next_prompt"] != "which package?" || parsed["job_related"] != true {
		t.Fatalf("llm_result = %v", result["llm_result"])
	}

	hist, _ := out.State[state.KeyHistory].([]any)
	if len(hist) == 0 {
		t.Fatal("assistant turn not appended to history")
	}
	last, _ := hist[len(hist)-1].(llm.Message)
	if last.Role != llm.RoleAssistant {
		t.Fatalf("last history entry = %+v", last)
	}
}

func TestLLMNodeSanitizesFencedJSON(t *testing.T) {
	fn := NewLLMNode(llmConfig())
	st := state.New("agent", "chat", "msg", "task", "hi")
	rc := &RunContext{
		LLM: llm.NewScriptedMockProvider("```json\n{\"resolved\": True}\n```"),
	}
	out, err := fn(context.Background(), st, rc)
	if err != nil {
		t.Fatalf("llm node: %v", err)
	}
	result, _ := out.State[state.KeyResult].(map[string]any)
	parsed, _ := result["llm_result"].(map[string]any)
	if parsed["resolved"] != true {
		t.Fatalf("sanitize failed: %v", result["llm_result"])
	}
}

func TestLLMNodeKeepsRawText(t *testing.T) {
	fn := NewLLMNode(llmConfig())
	st := state.New("agent", "chat", "msg", "task", "hi")
	rc := &RunContext{LLM: llm.NewScriptedMockProvider("plain answer")}
	out, _ := fn(context.Background(), st, rc)
	result, _ := out.State[state.KeyResult].(map[string]any)
	if result["llm_result"] != "plain answer" {
		t.Fatalf("raw text lost: %v", result["llm_result"])
	}
}

func TestLLMNodeRecordsProviderError(t *testing.T) {
	fn := NewLLMNode(llmConfig())
	st := state.New("agent", "chat", "msg", "task", "hi")
	rc := &RunContext{LLM: &llm.FailingMockProvider{}}
	out, err := fn(context.Background(), st, rc)
	if err != nil {
		t.Fatalf("llm failures must not fail the node: %v", err)
	}
	if out.State.ErrorText() == "" {
		t.Fatal("provider error not recorded in state")
	}
	details, _ := out.State["error_details"].(map[string]any)
	if details["model"] != "gpt-4o-mini" {
		t.Fatalf("error details = %v", details)
	}
}

func TestParseLooseJSON(t *testing.T) {
	cases := []struct {
		in       string
		wantKind string
	}{
		{`{"a": 1}`, "map"},
		{"```json\n{\"a\": 1}\n```", "map"},
		{`{"ok": True, "bad": None}`, "map"},
		{"not json at all", "string"},
		{`[1, 2]`, "list"},
	}
	for _, tc := range cases {
		got := ParseLooseJSON(tc.in)
		switch tc.wantKind {
		case "map":
			if _, ok := got.(map[string]any); !ok {
				t.Fatalf("%q: expected map, got %T", tc.in, got)
			}
		case "list":
			if _, ok := got.([]any); !ok {
				t.Fatalf("%q: expected list, got %T", tc.in, got)
			}
		case "string":
			if _, ok := got.(string); !ok {
				t.Fatalf("%q: expected string, got %T", tc.in, got)
			}
		}
	}
}
