// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/ecanlabs/weave/pkg/mcp"
	"github.com/ecanlabs/weave/pkg/state"
)

const defaultToolTimeout = 30 * time.Second

// NewToolNode builds the remote MCP tool node. The tool input is taken from
// state.tool_input, back-filled from the node's compile-time config when the
// runtime value is missing or fails schema validation, then coerced to the
// declared field types.
func NewToolNode(cfg Config) Func {
	toolName := cfg.String("", "tool_name", "toolName")
	timeout := time.Duration(cfg.Int(int(defaultToolTimeout/time.Second), "timeoutSec")) * time.Second

	if toolName == "" {
		return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
			st[state.KeyError] = "MCP tool_name not configured"
			return Continue(st), nil
		}
	}

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()
		log.Info("node.tool.invoke", "node", rc.Node.FullName(), "tool", toolName)

		input, _ := st[state.KeyToolInput].(map[string]any)

		if rc.Registry != nil {
			if tool, ok := rc.Registry.Lookup(toolName); ok {
				coerced, err := mcp.CoerceInput(tool, input)
				if err != nil {
					compiled := backfillFromConfig(tool, cfg)
					merged := mergeToolInput(input, compiled)
					coerced, err = mcp.CoerceInput(tool, merged)
					if err != nil {
						log.Error("node.tool.schema", "tool", toolName, "error", err)
						st[state.KeyError] = err.Error()
						return Continue(st), nil
					}
					log.Debug("node.tool.backfilled", "tool", toolName)
				}
				input = coerced
				st[state.KeyToolInput] = input
			}
		}

		if rc.Tools == nil {
			st[state.KeyError] = "tool transport not configured"
			return Continue(st), nil
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result, err := rc.Tools.CallTool(callCtx, toolName, input)
		if err != nil {
			log.Error("node.tool.failed", "tool", toolName, "error", err)
			st[state.KeyError] = err.Error()
			st.AppendHistory(actionEntry("mcp call to "+toolName, err.Error()))
			return Continue(st), nil
		}

		text := mcp.ResultText(result)
		st[state.KeyToolResult] = ParseLooseJSON(text)
		st.BumpSteps()
		st.AppendHistory(actionEntry("mcp call to "+toolName, truncate(text, 2048)))
		delete(st, state.KeyError)

		log.Debug("node.tool.done", "tool", toolName, "n_steps", st.NSteps())
		return Continue(st), nil
	}
}

// backfillFromConfig builds a schema-shaped input from node config values,
// including the nested "input" object some tools require. Missing values
// get type-based zero defaults.
func backfillFromConfig(tool mcpgo.Tool, cfg Config) map[string]any {
	out := map[string]any{}
	props := tool.InputSchema.Properties

	for _, req := range tool.InputSchema.Required {
		if req == "input" {
			spec, _ := props["input"].(map[string]any)
			out["input"] = backfillObject(spec, cfg)
			continue
		}
		if v := cfg.Value(req); v != nil {
			out[req] = v
			continue
		}
		spec, _ := props[req].(map[string]any)
		out[req] = emptyForType(spec)
	}
	return out
}

func backfillObject(spec map[string]any, cfg Config) map[string]any {
	obj := map[string]any{}
	if spec == nil {
		return obj
	}
	required, _ := spec["required"].([]any)
	props, _ := spec["properties"].(map[string]any)
	for _, raw := range required {
		key, _ := raw.(string)
		if key == "" {
			continue
		}
		if v := cfg.Value(key); v != nil {
			obj[key] = v
			continue
		}
		fieldSpec, _ := props[key].(map[string]any)
		obj[key] = emptyForType(fieldSpec)
	}
	return obj
}

func emptyForType(spec map[string]any) any {
	typ, _ := spec["type"].(string)
	switch typ {
	case "integer", "number":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return ""
	}
}

// mergeToolInput keeps runtime-provided values, filling gaps from the
// compiled input. The nested "input" object merges field-wise.
func mergeToolInput(runtime, compiled map[string]any) map[string]any {
	out := make(map[string]any, len(compiled))
	for k, v := range compiled {
		out[k] = v
	}
	for k, v := range runtime {
		if k == "input" {
			rv, rok := v.(map[string]any)
			cv, cok := out["input"].(map[string]any)
			if rok && cok {
				merged := make(map[string]any, len(cv))
				for ik, iv := range cv {
					merged[ik] = iv
				}
				for ik, iv := range rv {
					merged[ik] = iv
				}
				out["input"] = merged
				continue
			}
		}
		out[k] = v
	}
	return out
}
