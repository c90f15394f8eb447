// SPDX-License-Identifier: Apache-2.0
// Package state implements the per-run record carried through a skill graph.
package state

import (
	"encoding/json"
)

// Reserved positions in the messages list, set once at task birth.
const (
	SlotAgentID = iota
	SlotChatID
	SlotMsgID
	SlotTaskID
	SlotInitialText
	reservedSlots
)

// Well-known state keys.
const (
	KeyMessages   = "messages"
	KeyHistory    = "history"
	KeyAttributes = "attributes"
	KeyMetadata   = "metadata"
	KeyPrompts    = "prompts"
	KeyPromptRefs = "prompt_refs"
	KeyToolInput  = "tool_input"
	KeyToolResult = "tool_result"
	KeyResult     = "result"
	KeyError      = "error"
	KeyRetries    = "retries"
	KeyCondition  = "condition"
	KeyCase       = "case"
	KeyMaxSteps   = "max_steps"
	KeyNSteps     = "n_steps"
	KeyEvents     = "events"
)

// State is the run record. Keys are free-form; the engine and nodes agree on
// the well-known keys above. Values must stay JSON-serializable so checkpoints
// can round-trip through disk.
type State map[string]any

// New seeds a fresh state with the five reserved message slots.
func New(agentID, chatID, msgID, taskID, text string) State {
	return State{
		KeyMessages:   []any{agentID, chatID, msgID, taskID, text},
		KeyHistory:    []any{},
		KeyAttributes: map[string]any{},
		KeyMetadata:   map[string]any{},
		KeyEvents:     []any{},
		KeyNSteps:     0,
	}
}

// Clone returns a deep copy suitable for checkpoint snapshots.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	return State(deepCopyMap(map[string]any(s)))
}

// Messages returns the message list, never nil.
func (s State) Messages() []any {
	if l, ok := s[KeyMessages].([]any); ok {
		return l
	}
	return nil
}

// AgentID returns the reserved agent id slot.
func (s State) AgentID() string { return s.slot(SlotAgentID) }

// ChatID returns the reserved chat id slot.
func (s State) ChatID() string { return s.slot(SlotChatID) }

// TaskID returns the reserved task id slot.
func (s State) TaskID() string { return s.slot(SlotTaskID) }

// InitialText returns the reserved initial text slot.
func (s State) InitialText() string { return s.slot(SlotInitialText) }

func (s State) slot(i int) string {
	msgs := s.Messages()
	if i >= len(msgs) {
		return ""
	}
	str, _ := msgs[i].(string)
	return str
}

// AppendMessage appends to the transcript, past the reserved slots.
func (s State) AppendMessage(msg any) {
	msgs := s.Messages()
	for len(msgs) < reservedSlots {
		msgs = append(msgs, "")
	}
	s[KeyMessages] = append(msgs, msg)
}

// AppendHistory appends typed message items for the LLM context window.
func (s State) AppendHistory(items ...any) {
	hist, _ := s[KeyHistory].([]any)
	s[KeyHistory] = append(hist, items...)
}

// AppendEvent records a normalized external event on the run.
func (s State) AppendEvent(ev any) {
	evs, _ := s[KeyEvents].([]any)
	s[KeyEvents] = append(evs, ev)
}

// Attributes returns the free-form attribute map, creating it if needed.
func (s State) Attributes() map[string]any {
	if m, ok := s[KeyAttributes].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	s[KeyAttributes] = m
	return m
}

// Metadata returns the node scratch map, creating it if needed.
func (s State) Metadata() map[string]any {
	if m, ok := s[KeyMetadata].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	s[KeyMetadata] = m
	return m
}

// NSteps returns the current step count.
func (s State) NSteps() int { return intValue(s[KeyNSteps]) }

// MaxSteps returns the step budget, or def when unset.
func (s State) MaxSteps(def int) int {
	if _, ok := s[KeyMaxSteps]; !ok {
		return def
	}
	return intValue(s[KeyMaxSteps])
}

// BumpSteps increments n_steps. The counter never decreases within a run.
func (s State) BumpSteps() int {
	n := s.NSteps() + 1
	s[KeyNSteps] = n
	return n
}

// ErrorText returns the last recorded node error, if any.
func (s State) ErrorText() string {
	str, _ := s[KeyError].(string)
	return str
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case State:
		return State(deepCopyMap(map[string]any(tv)))
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return tv
	}
}
