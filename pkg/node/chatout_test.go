// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"testing"

	"github.com/ecanlabs/weave/pkg/relay"
	"github.com/ecanlabs/weave/pkg/state"
)

type recordingSender struct {
	target string
	env    relay.Envelope
	err    error
	sent   int
}

func (r *recordingSender) Send(_ context.Context, target string, env relay.Envelope) error {
	r.target, r.env = target, env
	r.sent++
	return r.err
}

func TestChatOutSendsRenderedReply(t *testing.T) {
	sender := &recordingSender{}
	fn := NewChatOutNode(Config{"senderName": "Sourcing Agent"})

	st := state.New("agent-1", "chat-7", "msg", "task", "hi")
	st[state.KeyResult] = map[string]any{
		"llm_result": map[string]any{
			"next_prompt": "Found 3 candidates for LM317.",
			"job_related": true,
		},
	}

	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity(), Relay: sender})
	if err != nil {
		t.Fatalf("chatout: %v", err)
	}
	if sender.target != "chat-7" {
		t.Fatalf("target = %q", sender.target)
	}
	if sender.env.Params.Content.Text != "Found 3 candidates for LM317." {
		t.Fatalf("text = %q", sender.env.Params.Content.Text)
	}
	if sender.env.Params.SenderID != "agent-1" || sender.env.Params.SenderName != "Sourcing Agent" {
		t.Fatalf("sender = %+v", sender.env.Params)
	}
	if sender.env.Params.Content.ITag != "n1" {
		t.Fatalf("i_tag = %q", sender.env.Params.Content.ITag)
	}
	if out.State["job_related"] != true {
		t.Fatal("job_related not copied to state")
	}

	// The structured result stays intact for downstream conditionals.
	result := out.State[state.KeyResult].(map[string]any)
	if _, ok := result["llm_result"].(map[string]any); !ok {
		t.Fatal("llm_result must not be overwritten")
	}
}

func TestChatOutStringResult(t *testing.T) {
	sender := &recordingSender{}
	fn := NewChatOutNode(Config{})

	st := state.New("agent-1", "chat-7", "msg", "task", "hi")
	st[state.KeyResult] = map[string]any{"llm_result": "plain answer"}

	if _, err := fn(context.Background(), st, &RunContext{Node: testIdentity(), Relay: sender}); err != nil {
		t.Fatalf("chatout: %v", err)
	}
	if sender.env.Params.Content.Text != "plain answer" {
		t.Fatalf("text = %q", sender.env.Params.Content.Text)
	}
	if sender.env.Params.Role != "assistant" {
		t.Fatalf("role = %q", sender.env.Params.Role)
	}
}

func TestChatOutMissingResultIsNoop(t *testing.T) {
	sender := &recordingSender{}
	fn := NewChatOutNode(Config{})

	st := state.New("agent-1", "chat-7", "msg", "task", "hi")
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity(), Relay: sender})
	if err != nil {
		t.Fatalf("chatout: %v", err)
	}
	if sender.sent != 0 {
		t.Fatal("nothing to send")
	}
	if out.State.ErrorText() != "" {
		t.Fatalf("unexpected error: %s", out.State.ErrorText())
	}
}

func TestChatOutSendFailureRecorded(t *testing.T) {
	sender := &recordingSender{err: context.DeadlineExceeded}
	fn := NewChatOutNode(Config{})

	st := state.New("agent-1", "chat-7", "msg", "task", "hi")
	st[state.KeyResult] = map[string]any{"llm_result": "hello"}
	out, err := fn(context.Background(), st, &RunContext{Node: testIdentity(), Relay: sender})
	if err != nil {
		t.Fatalf("send failures land in state: %v", err)
	}
	if out.State.ErrorText() == "" {
		t.Fatal("missing state.error")
	}
}
