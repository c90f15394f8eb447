package event

import (
	"testing"

	"github.com/ecanlabs/weave/pkg/state"
)

func TestApplySplitsPatchAndResume(t *testing.T) {
	rs := RuleSet{Mappings: []Rule{
		{
			From: []string{"event.data.human_text"},
			To: []Target{
				{Target: "state.attributes.human.last_message"},
				{Target: "resume.human_text"},
			},
		},
	}}
	env := Envelope{Type: TypeChat, Data: map[string]any{"human_text": "reply"}}

	res := Apply(rs, env, state.New("a", "c", "m", "t", ""))

	got, _ := state.GetPath(res.Patch, "attributes.human.last_message")
	if got != "reply" {
		t.Fatalf("patch = %v", res.Patch)
	}
	if res.Resume["human_text"] != "reply" {
		t.Fatalf("resume = %v", res.Resume)
	}
}

func TestApplyFirstNonMissingSource(t *testing.T) {
	rs := RuleSet{Mappings: []Rule{
		{
			From: []string{"event.data.missing", "state.attributes.fallback"},
			To:   []Target{{Target: "resume.value"}},
		},
	}}
	st := state.New("a", "c", "m", "t", "")
	st.Attributes()["fallback"] = "from-state"

	res := Apply(rs, Envelope{Data: map[string]any{}}, st)
	if res.Resume["value"] != "from-state" {
		t.Fatalf("resume = %v", res.Resume)
	}
}

func TestApplyMissingSourcesContributeNothing(t *testing.T) {
	rs := RuleSet{Mappings: []Rule{
		{From: []string{"event.data.nope"}, To: []Target{{Target: "resume.x"}}},
	}}
	res := Apply(rs, Envelope{Data: map[string]any{}}, state.State{})
	if len(res.Resume) != 0 || len(res.Patch) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestApplyConflictPolicies(t *testing.T) {
	rs := RuleSet{Mappings: []Rule{
		{From: []string{"event.data.a"}, To: []Target{{Target: "state.slot"}}, OnConflict: ConflictMerge},
		{From: []string{"event.data.b"}, To: []Target{{Target: "state.slot"}}, OnConflict: ConflictMerge},
		{From: []string{"event.data.item"}, To: []Target{{Target: "state.list"}}, OnConflict: ConflictAppend},
		{From: []string{"event.data.item2"}, To: []Target{{Target: "state.list"}}, OnConflict: ConflictAppend},
	}}
	env := Envelope{Data: map[string]any{
		"a":     map[string]any{"x": 1},
		"b":     map[string]any{"y": 2},
		"item":  "i1",
		"item2": "i2",
	}}

	res := Apply(rs, env, state.State{})
	slot, _ := state.GetPath(res.Patch, "slot")
	m := slot.(map[string]any)
	if m["x"] != 1 || m["y"] != 2 {
		t.Fatalf("merge result: %v", m)
	}
	list, _ := state.GetPath(res.Patch, "list")
	if len(list.([]any)) != 2 {
		t.Fatalf("append result: %v", list)
	}
}

func TestApplyForNodeAddsTransfers(t *testing.T) {
	rs := RuleSet{
		Mappings: []Rule{
			{From: []string{"event.data.human_text"}, To: []Target{{Target: "resume.human_text"}}},
		},
		NodeTransfers: map[string][]Rule{
			"pend_for_human_input_fill_specs": {
				{From: []string{"event.data.form"}, To: []Target{{Target: "resume.filled_form"}}},
			},
		},
	}
	env := Envelope{Data: map[string]any{
		"human_text": "ok",
		"form":       map[string]any{"id": "technical_query_form"},
	}}

	res := ApplyForNode(rs, "pend_for_human_input_fill_specs", env, state.State{})
	if res.Resume["human_text"] != "ok" {
		t.Fatalf("skill rules skipped: %v", res.Resume)
	}
	form, ok := res.Resume["filled_form"].(map[string]any)
	if !ok || form["id"] != "technical_query_form" {
		t.Fatalf("node transfer missing: %v", res.Resume)
	}

	// Unknown node gets only skill-level rules.
	res = ApplyForNode(rs, "other_node", env, state.State{})
	if _, ok := res.Resume["filled_form"]; ok {
		t.Fatal("transfer applied for wrong node")
	}
}

func TestDefaultRulesCarryTagToCloudTaskID(t *testing.T) {
	rs := DefaultRules("released")
	env := Envelope{Type: TypeCloudCallback, Tag: "cloud-123", Data: map[string]any{}}
	res := Apply(rs, env, state.State{})
	got, _ := state.GetPath(res.Patch, "attributes.cloud_task_id")
	if got != "cloud-123" {
		t.Fatalf("patch = %v", res.Patch)
	}
}

func TestParseFileJSON(t *testing.T) {
	doc := []byte(`{
		"developing": {"mappings": [
			{"from": ["event.data.x"], "to": [{"target": "resume.x"}], "on_conflict": "overwrite"}
		]},
		"node_transfers": {
			"examine_filled_specs": [
				{"from": ["event.data.specs"], "to": [{"target": "state.metadata.parametric_filters"}]}
			]
		}
	}`)
	f, err := ParseFile(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rs := f.ForMode("developing")
	if len(rs.Mappings) != 1 {
		t.Fatalf("mappings = %d", len(rs.Mappings))
	}
	if _, ok := rs.NodeTransfers["examine_filled_specs"]; !ok {
		t.Fatal("top-level node_transfers not attached")
	}
	// Released mode falls back to defaults when absent.
	released := f.ForMode("released")
	if len(released.Mappings) == 0 {
		t.Fatal("released mode should fall back to defaults")
	}
}
