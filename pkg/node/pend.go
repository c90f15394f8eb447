// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"

	"github.com/ecanlabs/weave/pkg/state"
)

// NewPendNode builds the human/event wait node. First entry emits an
// interrupt parking the run; the resume re-enters with the payload in the
// run context and folds it into state.
func NewPendNode(cfg Config) Func {
	prompt := cfg.String("Action required to continue.", "prompt", "promptTemplate")
	tag := cfg.String("", "tag")
	eventType := cfg.String("", "eventType")

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()

		if !rc.Resumed {
			t := Tag(tag)
			if t == "" {
				t = Tag(rc.Node.NodeID)
			}
			meta := st.Metadata()
			qaForm, _ := meta["qa_form"].(map[string]any)
			notification, _ := meta["notification"].(map[string]any)

			log.Info("node.pend.suspend", "node", rc.Node.FullName(), "tag", string(t))
			return Suspended(st, &Interrupt{
				Tag:          t,
				PausedAt:     rc.Node.NodeID,
				WaitEvent:    eventType,
				Prompt:       prompt,
				QAForm:       qaForm,
				Notification: notification,
			}), nil
		}

		payload := rc.Resume
		log.Info("node.pend.resume", "node", rc.Node.FullName())

		if et, ok := payload["event_type"]; ok {
			st.AppendEvent(map[string]any{"event_type": et})
		}
		if patch, ok := payload["_state_patch"].(map[string]any); ok {
			report := state.DeepMerge(st, patch)
			for _, c := range report.Conflicts {
				log.Warn("node.pend.merge_conflict", "node", rc.Node.FullName(), "path", c)
			}
		}

		enrichFromChatAttributes(st, payload)
		routeFilledForm(st, payload, log.Debug)

		return Continue(st), nil
	}
}

// enrichFromChatAttributes copies chat metadata delivered with the resume
// into attributes and back-fills the reserved message slots that are still
// empty.
func enrichFromChatAttributes(st state.State, payload map[string]any) {
	chatAttrs, _ := payload["chat_attributes"].(map[string]any)
	if len(chatAttrs) > 0 {
		attrs := st.Attributes()
		existing, _ := attrs["chat_attributes"].(map[string]any)
		if existing == nil {
			existing = map[string]any{}
			attrs["chat_attributes"] = existing
		}
		for k, v := range chatAttrs {
			existing[k] = v
			if v == nil || v == "" {
				continue
			}
			if cur, ok := attrs[k]; !ok || cur == nil || cur == "" {
				attrs[k] = v
			}
		}
	}

	fill := map[int]any{
		state.SlotAgentID:     chatAttrs["receiverId"],
		state.SlotChatID:      chatAttrs["chatId"],
		state.SlotInitialText: chatAttrs["content"],
	}
	if params := lastEventParams(payload); params != nil {
		setIfNil(fill, state.SlotAgentID, params["receiverId"])
		setIfNil(fill, state.SlotChatID, params["chatId"])
		setIfNil(fill, state.SlotMsgID, params["msgId"])
		setIfNil(fill, state.SlotTaskID, params["taskId"])
		setIfNil(fill, state.SlotInitialText, params["content"])
	}

	msgs, _ := st[state.KeyMessages].([]any)
	for len(msgs) < 5 {
		msgs = append(msgs, "")
	}
	for idx, val := range fill {
		s, _ := val.(string)
		if s == "" {
			continue
		}
		if cur, _ := msgs[idx].(string); cur == "" {
			msgs[idx] = s
		}
	}
	st[state.KeyMessages] = msgs
}

// lastEventParams digs the raw event params out of the resume's debug patch.
func lastEventParams(payload map[string]any) map[string]any {
	patch, _ := payload["_state_patch"].(map[string]any)
	attrs, _ := patch["attributes"].(map[string]any)
	debug, _ := attrs["debug"].(map[string]any)
	meta, _ := debug["last_event_metadata"].(map[string]any)
	params, _ := meta["params"].(map[string]any)
	return params
}

func setIfNil(fill map[int]any, idx int, v any) {
	if cur, ok := fill[idx]; !ok || cur == nil || cur == "" {
		if v != nil && v != "" {
			fill[idx] = v
		}
	}
}

// routeFilledForm parses a textual reply and routes recognized filled forms
// into the metadata keys downstream nodes read.
func routeFilledForm(st state.State, payload map[string]any, debugf func(string, ...any)) {
	raw := payload["human_text"]
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return
		}
		raw = list[0]
	}

	var data map[string]any
	switch v := raw.(type) {
	case map[string]any:
		data = v
	case string:
		data, _ = ParseLooseJSON(v).(map[string]any)
	}
	if data == nil {
		return
	}

	meta := st.Metadata()
	switch data["type"] {
	case "normal":
		meta["filled_parametric_filter"] = data
		debugf("node.pend.form", "kind", "parametric_filter")
	case "score":
		meta["filled_fom_form"] = data
		debugf("node.pend.form", "kind", "fom")
	}
}
