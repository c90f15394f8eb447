// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/ecanlabs/weave/pkg/llm"
	"github.com/ecanlabs/weave/pkg/mcp"
	"github.com/ecanlabs/weave/pkg/state"
)

const toolPickerSystemPrompt = "You map a requested action onto one of the listed tools. " +
	"Reply with strict JSON: {\"tool_name\": \"<exact name>\", \"tool_input\": {..}} " +
	"where tool_input conforms to the selected tool's input schema."

// NewToolPickerNode builds the node that turns planned actions
// (state.result.llm_result.next_actions) into concrete tool calls. The
// schema registry is filtered by the action's category tags; when the action
// name does not match a candidate exactly, an LLM resolves the selection and
// the input mapping. Resolved calls land in state.tool_calls.
func NewToolPickerNode(cfg Config) Func {
	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()

		actions := nextActions(st)
		if len(actions) == 0 {
			log.Warn("node.toolpicker.no_actions", "node", rc.Node.FullName())
			return Continue(st), nil
		}
		if rc.Registry == nil {
			st[state.KeyError] = "tool registry not configured"
			return Continue(st), nil
		}

		calls, _ := st["tool_calls"].([]any)
		for _, action := range actions {
			category, _ := action["category"].(string)
			subCategory, _ := action["sub_category"].(string)
			actionName, _ := action["action_name"].(string)
			actionInput, _ := action["action_input"].(map[string]any)

			candidates := rc.Registry.Filter(category, subCategory)
			if len(candidates) == 0 {
				log.Warn("node.toolpicker.no_candidates",
					"action", actionName, "category", category, "sub_category", subCategory)
				continue
			}

			// Exact name match short-circuits the LLM round trip.
			var picked string
			input := actionInput
			for _, tool := range candidates {
				if tool.Name == actionName {
					picked = tool.Name
					break
				}
			}

			if picked == "" {
				if rc.LLM == nil {
					log.Warn("node.toolpicker.no_llm", "action", actionName)
					continue
				}
				name, mapped, err := pickWithLLM(ctx, rc.LLM, candidates, action)
				if err != nil {
					log.Error("node.toolpicker.failed", "action", actionName, "error", err)
					continue
				}
				picked, input = name, mapped
			}

			if tool, ok := rc.Registry.Lookup(picked); ok {
				if coerced, err := mcp.CoerceInput(tool, input); err == nil {
					input = coerced
				}
			}

			calls = append(calls, map[string]any{
				"tool_name":  picked,
				"tool_input": input,
			})
			log.Debug("node.toolpicker.picked", "action", actionName, "tool", picked)
		}
		st["tool_calls"] = calls
		return Continue(st), nil
	}
}

func nextActions(st state.State) []map[string]any {
	result, _ := st[state.KeyResult].(map[string]any)
	llmResult, _ := result["llm_result"].(map[string]any)
	raw, _ := llmResult["next_actions"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func pickWithLLM(ctx context.Context, provider llm.Provider, candidates []mcpgo.Tool, action map[string]any) (string, map[string]any, error) {
	var sb strings.Builder
	for _, tool := range candidates {
		schema, _ := json.Marshal(tool.InputSchema)
		fmt.Fprintf(&sb, "- %s: %s\n  schema: %s\n", tool.Name, tool.Description, schema)
	}
	actionJSON, _ := json.Marshal(action)

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: toolPickerSystemPrompt},
			{Role: llm.RoleUser, Content: "Tools:\n" + sb.String() + "\nAction:\n" + string(actionJSON)},
		},
	})
	if err != nil {
		return "", nil, err
	}

	parsed, _ := ParseLooseJSON(resp.Content).(map[string]any)
	if parsed == nil {
		return "", nil, fmt.Errorf("tool picker reply not parseable: %s", truncate(resp.Content, 256))
	}
	name, _ := parsed["tool_name"].(string)
	if name == "" {
		return "", nil, fmt.Errorf("tool picker reply missing tool_name")
	}
	input, _ := parsed["tool_input"].(map[string]any)
	return name, input, nil
}
