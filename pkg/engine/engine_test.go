// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/graph"
	"github.com/ecanlabs/weave/pkg/node"
	"github.com/ecanlabs/weave/pkg/state"
)

func mustCompile(t *testing.T, d *graph.Diagram, opts ...graph.Option) *graph.Compiled {
	t.Helper()
	c, err := graph.Compile(d, opts...)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return c
}

func markerScript(key string) map[string]any {
	return map[string]any{
		"script": map[string]any{"content": `function main(state)
  state["` + key + `"] = (state["` + key + `"] or 0) + 1
  return state
end`},
	}
}

func linearDiagram() *graph.Diagram {
	return &graph.Diagram{
		SkillName: "linear",
		Owner:     "tester",
		WorkFlow: &graph.Sheet{
			Nodes: []graph.Node{
				{ID: "start", Type: "start"},
				{ID: "a", Type: "code", Data: markerScript("ran_a")},
				{ID: "b", Type: "code", Data: markerScript("ran_b")},
				{ID: "end", Type: "end"},
			},
			Edges: []graph.Edge{
				{SourceNodeID: "start", TargetNodeID: "a"},
				{SourceNodeID: "a", TargetNodeID: "b"},
				{SourceNodeID: "b", TargetNodeID: "end"},
			},
		},
	}
}

func pendDiagram() *graph.Diagram {
	return &graph.Diagram{
		SkillName: "pending",
		Owner:     "tester",
		WorkFlow: &graph.Sheet{
			Nodes: []graph.Node{
				{ID: "start", Type: "start"},
				{ID: "ask", Type: "pend", Data: map[string]any{"tag": "approval", "prompt": "Need a decision."}},
				{ID: "done", Type: "code", Data: markerScript("finished")},
			},
			Edges: []graph.Edge{
				{SourceNodeID: "start", TargetNodeID: "ask"},
				{SourceNodeID: "ask", TargetNodeID: "done"},
			},
		},
	}
}

func runContext(skill string) *node.RunContext {
	return &node.RunContext{Node: node.Identity{SkillName: skill, Owner: "tester"}}
}

func TestRunLinear(t *testing.T) {
	c := mustCompile(t, linearDiagram())
	eng := New()

	res, err := eng.Run(context.Background(), c.Graph, state.State{}, runContext("linear"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if res.State["ran_a"] != float64(1) || res.State["ran_b"] != float64(1) {
		t.Fatalf("body did not run: %v", res.State)
	}
	if res.State.NSteps() != 4 {
		t.Fatalf("n_steps = %d", res.State.NSteps())
	}
	if res.RunID == "" {
		t.Fatal("missing run id")
	}
}

func TestPendSuspendAndResume(t *testing.T) {
	c := mustCompile(t, pendDiagram())
	eng := New()

	res, err := eng.Run(context.Background(), c.Graph, state.State{}, runContext("pending"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSuspended {
		t.Fatalf("status = %s", res.Status)
	}
	sus := res.Suspension
	if sus == nil || sus.Tag != node.Tag("approval") || sus.NodeID != "ask" {
		t.Fatalf("suspension = %+v", sus)
	}
	if sus.Info.Prompt != "Need a decision." {
		t.Fatalf("prompt = %q", sus.Info.Prompt)
	}
	if _, ok, _ := eng.Store().Load(context.Background(), res.RunID); !ok {
		t.Fatal("checkpoint not saved")
	}

	payload := map[string]any{
		"event_type":   "approve",
		"_state_patch": map[string]any{"attributes": map[string]any{"decision": "yes"}},
	}
	final, err := eng.Resume(context.Background(), c.Graph, res.RunID, sus.Tag, payload, runContext("pending"))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if final.State["finished"] != float64(1) {
		t.Fatal("successor did not run after resume")
	}
	if final.State.Attributes()["decision"] != "yes" {
		t.Fatalf("patch not merged: %v", final.State.Attributes())
	}
	if _, ok, _ := eng.Store().Load(context.Background(), res.RunID); ok {
		t.Fatal("checkpoint must be cleared on completion")
	}
}

func TestResumeTagMismatch(t *testing.T) {
	c := mustCompile(t, pendDiagram())
	eng := New()

	res, err := eng.Run(context.Background(), c.Graph, state.State{}, runContext("pending"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_, err = eng.Resume(context.Background(), c.Graph, res.RunID, node.Tag("wrong"), nil, runContext("pending"))
	if !errors.IsKind(err, errors.KindResumeTagMismatch) {
		t.Fatalf("err = %v", err)
	}

	// The checkpoint stays intact; a correct tag still resumes.
	final, err := eng.Resume(context.Background(), c.Graph, res.RunID, node.Tag("approval"), nil, runContext("pending"))
	if err != nil {
		t.Fatalf("resume after mismatch: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
}

func TestBreakpointResumeRunsSuccessorOnce(t *testing.T) {
	c := mustCompile(t, linearDiagram(), graph.WithBreakpoints("a"))
	eng := New()

	res, err := eng.Run(context.Background(), c.Graph, state.State{}, runContext("linear"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusSuspended {
		t.Fatalf("status = %s", res.Status)
	}
	if !res.Suspension.Breakpoint || res.Suspension.NodeID != "a" {
		t.Fatalf("suspension = %+v", res.Suspension)
	}
	// The node body already ran before the pause.
	if res.State["ran_a"] != float64(1) {
		t.Fatalf("paused state = %v", res.State)
	}

	final, err := eng.Resume(context.Background(), c.Graph, res.RunID, res.Suspension.Tag, nil, runContext("linear"))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if final.State["ran_a"] != float64(1) {
		t.Fatalf("breakpoint node body must not rerun: %v", final.State)
	}
	if final.State["ran_b"] != float64(1) {
		t.Fatalf("successor must run exactly once: %v", final.State)
	}
}

func TestMaxStepsExceeded(t *testing.T) {
	d := &graph.Diagram{
		SkillName: "spin",
		WorkFlow: &graph.Sheet{
			Nodes: []graph.Node{
				{ID: "a", Type: "noop"},
				{ID: "b", Type: "noop"},
			},
			Edges: []graph.Edge{
				{SourceNodeID: "a", TargetNodeID: "b"},
				{SourceNodeID: "b", TargetNodeID: "a"},
			},
		},
	}
	c := mustCompile(t, d)
	eng := New()

	st := state.State{state.KeyMaxSteps: 5}
	_, err := eng.Run(context.Background(), c.Graph, st, runContext("spin"))
	if !errors.IsKind(err, errors.KindMaxStepsExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestCancellation(t *testing.T) {
	c := mustCompile(t, linearDiagram())
	eng := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.Run(ctx, c.Graph, state.State{}, runContext("linear"))
	if !errors.IsKind(err, errors.KindCancelled) {
		t.Fatalf("err = %v", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestRunIDPropagation(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-fixed")
	c := mustCompile(t, linearDiagram())
	eng := New()

	res, err := eng.Run(ctx, c.Graph, state.State{}, runContext("linear"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID != "run-fixed" {
		t.Fatalf("run id = %q", res.RunID)
	}
}
