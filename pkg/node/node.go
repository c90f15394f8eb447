// SPDX-License-Identifier: Apache-2.0
// Package node provides the skill node library: typed node builders plus the
// wrapper that adds retries, breakpoints and identity injection to every node.
package node

import (
	"context"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/ecanlabs/weave/pkg/llm"
	"github.com/ecanlabs/weave/pkg/mcp"
	"github.com/ecanlabs/weave/pkg/relay"
	"github.com/ecanlabs/weave/pkg/state"
)

// Kind names a node type in a skill diagram.
type Kind string

const (
	KindStart      Kind = "start"
	KindEnd        Kind = "end"
	KindLLM        Kind = "llm"
	KindAPI        Kind = "api"
	KindTool       Kind = "tool"
	KindPend       Kind = "pend"
	KindCondition  Kind = "condition"
	KindLoop       Kind = "loop"
	KindChatOut    Kind = "chatout"
	KindCode       Kind = "code"
	KindToolPicker Kind = "toolpicker"
	KindVariable   Kind = "variable"
	KindNoop       Kind = "noop"
)

// ParseKind normalizes the node type strings different diagram exporters
// emit onto the canonical kinds.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llm", "model":
		return KindLLM
	case "api", "http":
		return KindAPI
	case "tool", "mcp", "remote-tool", "remote_tool":
		return KindTool
	case "pend", "pend-event", "pend_event", "pendevent":
		return KindPend
	case "chatout", "chat-out", "chat_out":
		return KindChatOut
	case "toolpicker", "tool-picker", "tool_picker":
		return KindToolPicker
	case "comment", "noop":
		return KindNoop
	case "":
		return KindNoop
	default:
		return Kind(strings.ToLower(strings.TrimSpace(s)))
	}
}

// Tag correlates a suspension with the event that resumes it. It is a
// distinct type so node ids and correlation tags cannot be mixed up silently.
type Tag string

// Interrupt describes a suspension point: who paused, what to show the human
// and which tag a resume event must carry.
type Interrupt struct {
	Tag          Tag            `json:"i_tag"`
	PausedAt     string         `json:"paused_at"`
	WaitEvent    string         `json:"wait_event,omitempty"`
	Prompt       string         `json:"prompt_to_human,omitempty"`
	QAForm       map[string]any `json:"qa_form_to_human,omitempty"`
	Notification map[string]any `json:"notification_to_human,omitempty"`
	Breakpoint   bool           `json:"breakpoint,omitempty"`
	Snapshot     state.State    `json:"state,omitempty"`
}

// Outcome is what a node invocation produces. Suspend set means the engine
// must checkpoint and park the run until a matching resume arrives.
type Outcome struct {
	State   state.State
	Suspend *Interrupt
}

// Continue wraps a state into a non-suspending outcome.
func Continue(st state.State) Outcome {
	return Outcome{State: st}
}

// Suspended wraps a state plus the interrupt that parks the run.
func Suspended(st state.State, in *Interrupt) Outcome {
	return Outcome{State: st, Suspend: in}
}

// Identity names a node inside a skill.
type Identity struct {
	NodeID    string
	SkillName string
	Owner     string
}

// FullName returns "owner:skill:node", the form used in logs and hooks.
func (id Identity) FullName() string {
	return id.Owner + ":" + id.SkillName + ":" + id.NodeID
}

// ToolCaller invokes a remote tool by name. *mcp.Client satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error)
}

// RunContext carries the per-invocation collaborators a node may need. The
// engine fills it before each dispatch; tests fill only what the node under
// test touches.
type RunContext struct {
	Node Identity

	// Resume holds the payload delivered when this node is re-entered after
	// a suspension. Resumed distinguishes an empty payload from no resume.
	// BreakpointResume marks the suspension as a breakpoint pause, whose
	// resume skips the node body and continues at the successor.
	Resume           map[string]any
	Resumed          bool
	BreakpointResume bool

	// LLM overrides per-node provider construction when set.
	LLM      llm.Provider
	Tools    ToolCaller
	Registry *mcp.Registry
	Prompts  PromptStore
	Relay    relay.Sender
	Log      *slog.Logger
}

// Logger returns the run logger, falling back to the process default.
func (rc *RunContext) Logger() *slog.Logger {
	if rc != nil && rc.Log != nil {
		return rc.Log
	}
	return slog.Default()
}

// Func is the contract every node implements.
type Func func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error)

// Passthrough returns the state unchanged. Structural nodes (start, end,
// condition, loop, noop) compile to this; branching lives on the edges.
func Passthrough(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
	return Continue(st), nil
}
