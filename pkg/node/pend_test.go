// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/state"
)

func pendConfig() Config {
	return Config{
		"prompt": "Please fill the form.",
		"tag":    "specs_form",
		"inputsValues": map[string]any{
			"eventType": map[string]any{"type": "constant", "content": "form_submit"},
		},
	}
}

func TestPendNodeSuspends(t *testing.T) {
	fn := NewPendNode(pendConfig())
	st := state.New("agent", "chat", "msg", "task", "hi")
	st.Metadata()["qa_form"] = map[string]any{"fields": []any{"package"}}

	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("pend: %v", err)
	}
	in := out.Suspend
	if in == nil {
		t.Fatal("expected suspension")
	}
	if in.Tag != Tag("specs_form") || in.PausedAt != "n1" || in.Prompt != "Please fill the form." {
		t.Fatalf("interrupt = %+v", in)
	}
	if in.QAForm == nil {
		t.Fatal("qa_form not carried")
	}
	if in.Breakpoint {
		t.Fatal("pend suspension is not a breakpoint")
	}
}

func TestPendNodeTagDefaultsToNodeID(t *testing.T) {
	fn := NewPendNode(Config{})
	out, _ := fn(context.Background(), state.State{}, &RunContext{Node: testIdentity()})
	if out.Suspend == nil || out.Suspend.Tag != Tag("n1") {
		t.Fatalf("tag = %+v", out.Suspend)
	}
}

func TestPendNodeResumeMergesStatePatch(t *testing.T) {
	fn := NewPendNode(pendConfig())
	st := state.New("agent", "chat", "msg", "task", "hi")
	st.Attributes()["a"] = 1

	rc := &RunContext{
		Node:    testIdentity(),
		Resumed: true,
		Resume: map[string]any{
			"event_type":   "form_submit",
			"_state_patch": map[string]any{"attributes": map[string]any{"b": 2}},
		},
	}
	out, err := fn(context.Background(), st, rc)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if out.Suspend != nil {
		t.Fatal("resume must not re-suspend")
	}
	attrs := out.State.Attributes()
	if attrs["a"] != 1 || attrs["b"] != 2 {
		t.Fatalf("patch merge wrong: %v", attrs)
	}
	events, _ := out.State[state.KeyEvents].([]any)
	if len(events) != 1 {
		t.Fatalf("events = %v", events)
	}
}

func TestPendNodeRoutesFilledForms(t *testing.T) {
	fn := NewPendNode(pendConfig())

	st := state.New("agent", "chat", "msg", "task", "hi")
	rc := &RunContext{
		Node:    testIdentity(),
		Resumed: true,
		Resume: map[string]any{
			"human_text": `{"type": "normal", "package": "TO-220"}`,
		},
	}
	out, _ := fn(context.Background(), st, rc)
	form, _ := out.State.Metadata()["filled_parametric_filter"].(map[string]any)
	if form["package"] != "TO-220" {
		t.Fatalf("parametric filter not routed: %v", out.State.Metadata())
	}

	st2 := state.New("agent", "chat", "msg", "task", "hi")
	rc2 := &RunContext{
		Node:    testIdentity(),
		Resumed: true,
		Resume: map[string]any{
			"human_text": []any{map[string]any{"type": "score", "total": 0.8}},
		},
	}
	out2, _ := fn(context.Background(), st2, rc2)
	if _, ok := out2.State.Metadata()["filled_fom_form"]; !ok {
		t.Fatalf("fom form not routed: %v", out2.State.Metadata())
	}
}

func TestPendNodeResumeFillsEmptySlots(t *testing.T) {
	fn := NewPendNode(pendConfig())
	st := state.New("agent", "", "", "", "")

	rc := &RunContext{
		Node:    testIdentity(),
		Resumed: true,
		Resume: map[string]any{
			"chat_attributes": map[string]any{
				"chatId":  "chat-9",
				"content": "resumed text",
			},
		},
	}
	out, _ := fn(context.Background(), st, rc)
	if out.State.ChatID() != "chat-9" {
		t.Fatalf("chat slot not filled: %q", out.State.ChatID())
	}
	if out.State.InitialText() != "resumed text" {
		t.Fatalf("text slot not filled: %q", out.State.InitialText())
	}
	// Occupied slots stay put.
	if out.State.AgentID() != "agent" {
		t.Fatalf("agent slot overwritten: %q", out.State.AgentID())
	}
}
