// SPDX-License-Identifier: Apache-2.0
// Package event normalizes external events and applies declarative mapping
// rules that turn them into state patches and resume payloads.
package event

import (
	"time"

	"github.com/ecanlabs/weave/pkg/state"
)

// Type is a canonical event type.
type Type string

const (
	TypeChat           Type = "chat"
	TypeFormSubmit     Type = "form_submit"
	TypeToolCompletion Type = "tool_completion"
	TypeScheduleTick   Type = "schedule_tick"
	TypeCloudCallback  Type = "cloud_callback"
	TypeCancel         Type = "cancel"
	TypeTimeout        Type = "timeout"
	TypeOther          Type = "other"
)

// Envelope is the normalized event shape that flows through the runtime.
type Envelope struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
	Src  string         `json:"src"`
	Tag  string         `json:"tag"`
	TS   int64          `json:"ts"`
	Ctx  map[string]any `json:"ctx"`
}

// Request is the inbound IPC/UI record shape.
type Request struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"` // request|response|event
	Method    string         `json:"method"`
	Params    map[string]any `json:"params"`
	Timestamp int64          `json:"timestamp"`
}

// SendParams is the agent-to-agent task-send record shape.
type SendParams struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Message   map[string]any `json:"message"`
	Metadata  map[string]any `json:"metadata"`
}

// Normalize canonicalizes any supported inbound shape. A nil input is a
// schedule tick. Already-normalized envelopes pass through unchanged, so
// Normalize is idempotent.
func Normalize(in any) Envelope {
	switch v := in.(type) {
	case nil:
		return Envelope{Type: TypeScheduleTick, Data: map[string]any{}, Ctx: map[string]any{}, TS: nowMillis()}
	case Envelope:
		return fillEnvelope(v)
	case *Envelope:
		return fillEnvelope(*v)
	case Request:
		return fromRequest(v)
	case *Request:
		return fromRequest(*v)
	case SendParams:
		return fromSendParams(v)
	case *SendParams:
		return fromSendParams(*v)
	case map[string]any:
		return fromMap(v)
	default:
		return Envelope{
			Type: TypeOther,
			Data: map[string]any{"raw": in},
			Ctx:  map[string]any{},
			TS:   nowMillis(),
		}
	}
}

func fillEnvelope(e Envelope) Envelope {
	if e.Type == "" {
		e.Type = TypeOther
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Ctx == nil {
		e.Ctx = map[string]any{}
	}
	if e.TS == 0 {
		e.TS = nowMillis()
	}
	return e
}

func fromRequest(r Request) Envelope {
	env := Envelope{
		Type: inferType(r.Method),
		Data: map[string]any{},
		Ctx:  map[string]any{"id": r.ID},
		TS:   r.Timestamp,
	}
	if env.TS == 0 {
		env.TS = nowMillis()
	}
	enrichFromParams(&env, r.Params)
	return env
}

func fromSendParams(p SendParams) Envelope {
	env := Envelope{
		Type: TypeChat,
		Data: map[string]any{},
		Ctx:  map[string]any{"id": p.ID, "sessionId": p.SessionID},
		TS:   nowMillis(),
	}
	if text := extractText(p.Message); text != "" {
		env.Data["human_text"] = text
	}
	if p.Metadata != nil {
		env.Data["metadata"] = p.Metadata
		enrichFromMetadata(&env, p.Metadata)
	}
	return env
}

func fromMap(m map[string]any) Envelope {
	// A map that already looks like an envelope passes through.
	if t, ok := m["type"].(string); ok {
		if _, hasData := m["data"]; hasData {
			env := Envelope{Type: Type(t)}
			env.Data, _ = m["data"].(map[string]any)
			env.Ctx, _ = m["ctx"].(map[string]any)
			env.Src, _ = m["src"].(string)
			env.Tag, _ = m["tag"].(string)
			if ts, ok := state.GetPath(m, "ts"); ok {
				env.TS = toInt64(ts)
			}
			return fillEnvelope(env)
		}
	}

	method, _ := m["method"].(string)
	env := Envelope{
		Type: inferType(method),
		Data: map[string]any{},
		Ctx:  map[string]any{},
		TS:   nowMillis(),
	}
	if id, ok := m["id"]; ok {
		env.Ctx["id"] = id
	}
	params, _ := m["params"].(map[string]any)
	if params == nil {
		// Bare dict: treat the whole map as the data payload.
		env.Data = m
		return env
	}
	enrichFromParams(&env, params)
	return env
}

func enrichFromParams(env *Envelope, params map[string]any) {
	if params == nil {
		return
	}
	if msg, ok := params["message"].(map[string]any); ok {
		if text := extractText(msg); text != "" {
			env.Data["human_text"] = text
		}
	}
	if content, ok := params["content"].(string); ok && content != "" {
		env.Data["human_text"] = content
	}
	meta, _ := params["metadata"].(map[string]any)
	if meta != nil {
		env.Data["metadata"] = meta
		enrichFromMetadata(env, meta)
	}
	for _, key := range []string{"chatId", "msgId", "senderId", "senderName", "human", "token"} {
		if v, ok := params[key]; ok {
			env.Ctx[key] = v
		}
	}
	if len(env.Data) == 0 {
		env.Data["raw"] = params
	}
}

func enrichFromMetadata(env *Envelope, meta map[string]any) {
	if env.Tag == "" {
		for _, key := range []string{"i_tag", "tag", "params.i_tag"} {
			if v, ok := state.GetPath(meta, key); ok {
				if s, isStr := v.(string); isStr && s != "" {
					env.Tag = s
					break
				}
			}
		}
	}
	for metaKey, ctxKey := range map[string]string{
		"params.chatId":     "chatId",
		"params.msgId":      "msgId",
		"params.senderId":   "senderId",
		"params.senderName": "senderName",
	} {
		if _, exists := env.Ctx[ctxKey]; exists {
			continue
		}
		if v, ok := state.GetPath(meta, metaKey); ok {
			env.Ctx[ctxKey] = v
		} else if v, ok := meta[ctxKey]; ok {
			env.Ctx[ctxKey] = v
		}
	}
	if env.Src == "" {
		if v, ok := env.Ctx["senderId"].(string); ok {
			env.Src = v
		}
	}
}

func inferType(method string) Type {
	switch method {
	case "send_chat":
		return TypeChat
	case "send_task":
		return TypeChat
	case "form_submit":
		return TypeFormSubmit
	case "tool_completion":
		return TypeToolCompletion
	case "cloud_callback":
		return TypeCloudCallback
	case "cancel":
		return TypeCancel
	case "":
		return TypeOther
	default:
		return Type(method)
	}
}

// extractText collects the first text part of a message, falling back to a
// top-level text field.
func extractText(msg map[string]any) string {
	if msg == nil {
		return ""
	}
	if parts, ok := msg["parts"].([]any); ok {
		for _, p := range parts {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := pm["text"].(string); ok && t != "" {
				return t
			}
		}
	}
	if t, ok := msg["text"].(string); ok {
		return t
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
