// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"fmt"

	"github.com/ecanlabs/weave/pkg/relay"
	"github.com/ecanlabs/weave/pkg/state"
)

// NewChatOutNode builds the node that surfaces state.result.llm_result to
// the chat UI through the relay. The structured result stays intact in state
// so downstream conditionals can still inspect it; only the rendered text
// leaves through the relay.
func NewChatOutNode(cfg Config) Func {
	role := cfg.String("assistant", "role")
	senderName := cfg.String("", "senderName")

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()

		result := resultMap(st)
		llmResult, ok := result["llm_result"]
		if !ok {
			log.Warn("node.chatout.empty", "node", rc.Node.FullName())
			return Continue(st), nil
		}

		text := renderReply(llmResult)
		if m, ok := llmResult.(map[string]any); ok {
			if jr, ok := m["job_related"]; ok {
				st["job_related"] = jr
			}
		}
		if jr, ok := result["job_related"]; ok {
			st["job_related"] = jr
		}

		if rc.Relay == nil {
			log.Warn("node.chatout.no_relay", "node", rc.Node.FullName())
			return Continue(st), nil
		}

		env := relay.NewEnvelope(st.AgentID(), senderName, role, relay.Content{
			Type: "text",
			Text: text,
			ITag: string(Tag(rc.Node.NodeID)),
		})
		if err := rc.Relay.Send(ctx, st.ChatID(), env); err != nil {
			log.Error("node.chatout.send_failed", "node", rc.Node.FullName(), "error", err)
			st[state.KeyError] = err.Error()
			return Continue(st), nil
		}

		log.Debug("node.chatout.sent", "node", rc.Node.FullName(), "chat_id", st.ChatID())
		return Continue(st), nil
	}
}

// renderReply extracts the human-facing text from a structured LLM result
// without mutating it.
func renderReply(llmResult any) string {
	switch v := llmResult.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["next_prompt"].(string); ok && s != "" {
			return s
		}
		if s, ok := v["text"].(string); ok && s != "" {
			return s
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
