// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/state"
)

func codeConfig(script string) Config {
	return Config{
		"inputsValues": map[string]any{
			"script": map[string]any{"type": "constant", "content": script},
		},
	}
}

func TestCodeNodeMutatesState(t *testing.T) {
	fn := NewCodeNode(codeConfig(`
function main(state)
  state["counter"] = (state["counter"] or 0) + 1
  state["greeting"] = "hello " .. state["name"]
  return state
end`))

	st := state.State{"name": "weave", "counter": float64(2)}
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("code node: %v", err)
	}
	if out.State["counter"] != float64(3) {
		t.Fatalf("counter = %v", out.State["counter"])
	}
	if out.State["greeting"] != "hello weave" {
		t.Fatalf("greeting = %v", out.State["greeting"])
	}
}

func TestCodeNodeListsRoundTrip(t *testing.T) {
	fn := NewCodeNode(codeConfig(`
function main(state)
  table.insert(state["parts"], "LM317")
  return state
end`))

	st := state.State{"parts": []any{"NE555"}}
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("code node: %v", err)
	}
	parts, _ := out.State["parts"].([]any)
	if len(parts) != 2 || parts[1] != "LM317" {
		t.Fatalf("parts = %v", parts)
	}
}

func TestCodeNodeEmptyTableDecodesAsMap(t *testing.T) {
	fn := NewCodeNode(codeConfig(`
function main(state)
  state["emptied"] = {}
  state["kept"] = {"one"}
  return state
end`))

	out, err := fn(context.Background(), state.State{}, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("code node: %v", err)
	}
	if m, ok := out.State["emptied"].(map[string]any); !ok || len(m) != 0 {
		t.Fatalf("empty table = %T %v, want empty map", out.State["emptied"], out.State["emptied"])
	}
	if list, ok := out.State["kept"].([]any); !ok || len(list) != 1 {
		t.Fatalf("non-empty list = %T %v", out.State["kept"], out.State["kept"])
	}
}

func TestCodeNodeMissingMainPassesThrough(t *testing.T) {
	fn := NewCodeNode(codeConfig(`x = 1`))

	st := state.State{"kept": true}
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("missing main must not error: %v", err)
	}
	if out.State["kept"] != true {
		t.Fatal("state must pass through unchanged")
	}
}

func TestCodeNodeEmptyScriptPassesThrough(t *testing.T) {
	fn := NewCodeNode(Config{})
	st := state.State{"kept": true}
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("empty script must not error: %v", err)
	}
	if out.State["kept"] != true {
		t.Fatal("state must pass through unchanged")
	}
}

func TestCodeNodeScriptErrorReturnsFailure(t *testing.T) {
	fn := NewCodeNode(codeConfig(`
function main(state)
  error("boom")
end`))

	_, err := fn(context.Background(), state.State{}, &RunContext{Node: testIdentity()})
	if err == nil {
		t.Fatal("script errors must surface to the wrapper")
	}
	if !errors.IsKind(err, errors.KindNodeFailure) {
		t.Fatalf("kind = %v", err)
	}
}

func TestCodeNodeSandboxBlocksOS(t *testing.T) {
	fn := NewCodeNode(codeConfig(`
function main(state)
  state["has_os"] = os ~= nil
  state["has_io"] = io ~= nil
  return state
end`))

	out, err := fn(context.Background(), state.State{}, &RunContext{Node: testIdentity()})
	if err != nil {
		t.Fatalf("code node: %v", err)
	}
	if out.State["has_os"] != false || out.State["has_io"] != false {
		t.Fatalf("sandbox leaked: os=%v io=%v", out.State["has_os"], out.State["has_io"])
	}
}
