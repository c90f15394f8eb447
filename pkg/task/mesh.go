// SPDX-License-Identifier: Apache-2.0
package task

import (
	"context"
	"sync"

	"github.com/ecanlabs/weave/pkg/errors"
	"github.com/ecanlabs/weave/pkg/event"
	"github.com/ecanlabs/weave/pkg/relay"
)

// Mesh routes relay envelopes between co-hosted agents. It satisfies
// relay.Sender, so chat-out nodes can address any registered agent; the
// reply comes back as a normal inbound event on the sender's chatter task.
type Mesh struct {
	mu     sync.RWMutex
	agents map[string]*Runner
}

// NewMesh builds an empty mesh.
func NewMesh() *Mesh {
	return &Mesh{agents: map[string]*Runner{}}
}

// Register adds an agent's runner to the mesh.
func (m *Mesh) Register(r *Runner) {
	m.mu.Lock()
	m.agents[r.AgentID()] = r
	m.mu.Unlock()
}

// Unregister removes an agent.
func (m *Mesh) Unregister(agentID string) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
}

// Send enqueues the envelope on the target agent's chatter task. It never
// blocks; a full queue surfaces QueueFull to the caller.
func (m *Mesh) Send(ctx context.Context, target string, env relay.Envelope) error {
	m.mu.RLock()
	r, ok := m.agents[target]
	m.mu.RUnlock()
	if !ok {
		return errors.New(errors.KindInternal, "unknown relay target", nil).
			WithContext("target", target)
	}
	return r.DeliverChat(ctx, env)
}

// DeliverChat converts an inter-agent envelope to an inbound chat event and
// enqueues it on the chatter task without blocking.
func (r *Runner) DeliverChat(_ context.Context, env relay.Envelope) error {
	r.mu.RLock()
	chatter := r.chatter
	r.mu.RUnlock()
	if chatter == "" {
		return errors.New(errors.KindInternal, "agent has no chatter task", nil).
			WithContext("agent_id", r.agentID)
	}
	t, ok := r.Task(chatter)
	if !ok {
		return errors.New(errors.KindInternal, "chatter task gone", nil).
			WithContext("agent_id", r.agentID)
	}
	return t.queue.Enqueue(chatEvent(env))
}

// chatEvent maps the relay shape onto the inbound send_chat record so it
// normalizes like any UI message.
func chatEvent(env relay.Envelope) event.Envelope {
	params := map[string]any{
		"content":    env.Params.Content.Text,
		"senderId":   env.Params.SenderID,
		"senderName": env.Params.SenderName,
		"human":      env.Params.Human,
	}
	if len(env.Params.Attachments) > 0 {
		params["attachments"] = env.Params.Attachments
	}
	meta := map[string]any{}
	if env.Params.Content.ITag != "" {
		meta["i_tag"] = env.Params.Content.ITag
	}
	if len(env.Params.Ext) > 0 {
		meta["ext"] = env.Params.Ext
	}
	if len(meta) > 0 {
		params["metadata"] = meta
	}
	return event.Normalize(event.Request{
		ID:        env.ID,
		Type:      "request",
		Method:    "send_chat",
		Params:    params,
		Timestamp: env.Params.CreateAt,
	})
}
