// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/state"
)

func TestEvalPredicateModes(t *testing.T) {
	st := state.State{
		state.KeyCondition: true,
		state.KeyCase:      "approve",
		"attributes":       map[string]any{"score": float64(7)},
	}

	cases := []struct {
		name  string
		value map[string]any
		want  bool
	}{
		{"state.condition", map[string]any{"mode": "state.condition"}, true},
		{"state.case match", map[string]any{"mode": "state.case", "case": "approve"}, true},
		{"state.case miss", map[string]any{"mode": "state.case", "case": "reject"}, false},
		{"custom lua", map[string]any{"mode": "custom", "expr": `state["attributes"]["score"] > 5`}, true},
		{"custom lua false", map[string]any{"mode": "custom", "expr": `state["attributes"]["score"] > 10`}, false},
		{"custom lua broken", map[string]any{"mode": "custom", "expr": `this is not lua`}, false},
		{"ref is_true", map[string]any{
			"left":     map[string]any{"type": "ref", "content": []any{"start_0", "condition"}},
			"operator": "is_true",
		}, true},
		{"ref gt", map[string]any{
			"left":     map[string]any{"type": "ref", "content": []any{"attributes", "score"}},
			"operator": "gt",
			"right":    map[string]any{"type": "constant", "content": float64(5)},
		}, true},
		{"empty value", nil, false},
	}
	for _, tc := range cases {
		if got := EvalPredicate(tc.value, st); got != tc.want {
			t.Errorf("%s: EvalPredicate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTruthy(t *testing.T) {
	truthy := []any{true, 1, "yes", []any{1}, map[string]any{"k": 1}, 0.5}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%v) = false", v)
		}
	}
	falsy := []any{nil, false, 0, "", "false", "None", []any{}, map[string]any{}}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%v) = true", v)
		}
	}
}

func TestVariableNodeAssigns(t *testing.T) {
	fn := NewVariableNode(Config{
		"assignments": []any{
			map[string]any{"target": "attributes.foo", "value": float64(1)},
			map[string]any{"target": "metadata.bar", "value": "x"},
		},
	})
	st := state.State{}
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("variable node: %v", err)
	}
	if out.State.Attributes()["foo"] != float64(1) {
		t.Fatalf("attributes = %v", out.State.Attributes())
	}
	if out.State.Metadata()["bar"] != "x" {
		t.Fatalf("metadata = %v", out.State.Metadata())
	}
}
