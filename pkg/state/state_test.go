package state

import (
	"reflect"
	"testing"
)

func TestNewReservedSlots(t *testing.T) {
	st := New("agent-1", "chat-9", "msg-3", "task-7", "hi")
	if st.AgentID() != "agent-1" || st.ChatID() != "chat-9" || st.TaskID() != "task-7" {
		t.Fatalf("reserved slots wrong: %v", st.Messages())
	}
	if st.InitialText() != "hi" {
		t.Fatalf("initial text wrong: %q", st.InitialText())
	}

	st.AppendMessage("first turn")
	msgs := st.Messages()
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	if st.AgentID() != "agent-1" {
		t.Fatal("append must not disturb reserved slots")
	}
}

func TestDeepMergeSemantics(t *testing.T) {
	st := New("a", "c", "m", "t", "x")
	st.Attributes()["foo"] = map[string]any{"a": 1}

	DeepMerge(st, map[string]any{
		"attributes": map[string]any{"foo": map[string]any{"b": 2}},
		"events":     []any{"ev1"},
	})
	DeepMerge(st, map[string]any{
		"events": []any{"ev2"},
	})

	foo := st.Attributes()["foo"].(map[string]any)
	if foo["a"] != 1 || foo["b"] != 2 {
		t.Fatalf("maps must merge, got %v", foo)
	}
	evs := st[KeyEvents].([]any)
	if !reflect.DeepEqual(evs, []any{"ev1", "ev2"}) {
		t.Fatalf("lists must append, got %v", evs)
	}
}

func TestDeepMergeIdempotence(t *testing.T) {
	st := New("a", "c", "m", "t", "x")
	st.Attributes()["flag"] = true

	before := st.Clone()
	report := DeepMerge(st, map[string]any{})
	if len(report.Conflicts) != 0 {
		t.Fatalf("empty patch produced conflicts: %v", report.Conflicts)
	}
	if !reflect.DeepEqual(map[string]any(before), map[string]any(st)) {
		t.Fatal("merge with empty patch must be identity")
	}

	// Merging a scalar-only patch twice converges to the same value.
	DeepMerge(st, map[string]any{"attributes": map[string]any{"flag": false}})
	DeepMerge(st, map[string]any{"attributes": map[string]any{"flag": false}})
	if st.Attributes()["flag"] != false {
		t.Fatal("scalar overwrite failed")
	}
}

func TestDeepMergeConflictOverwrites(t *testing.T) {
	st := State{"slot": []any{1, 2}}
	report := DeepMerge(st, map[string]any{"slot": map[string]any{"k": "v"}})
	if len(report.Conflicts) != 1 {
		t.Fatalf("expected one conflict diagnostic, got %v", report.Conflicts)
	}
	if _, ok := st["slot"].(map[string]any); !ok {
		t.Fatalf("conflict must overwrite, got %T", st["slot"])
	}
}

func TestCloneIsolation(t *testing.T) {
	st := New("a", "c", "m", "t", "x")
	st.Attributes()["nested"] = map[string]any{"k": "v"}
	cp := st.Clone()

	cp.Attributes()["nested"].(map[string]any)["k"] = "changed"
	if st.Attributes()["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("clone must not share nested maps")
	}
}

func TestStepCounter(t *testing.T) {
	st := New("a", "c", "m", "t", "x")
	if st.NSteps() != 0 {
		t.Fatalf("fresh state n_steps = %d", st.NSteps())
	}
	st.BumpSteps()
	st.BumpSteps()
	if st.NSteps() != 2 {
		t.Fatalf("n_steps = %d", st.NSteps())
	}
	// JSON round-trips store numbers as float64.
	st[KeyNSteps] = float64(5)
	if st.NSteps() != 5 {
		t.Fatalf("float n_steps = %d", st.NSteps())
	}
	if st.MaxSteps(50) != 50 {
		t.Fatal("unset max_steps must fall back to default")
	}
	st[KeyMaxSteps] = 10
	if st.MaxSteps(50) != 10 {
		t.Fatal("explicit max_steps ignored")
	}
}
