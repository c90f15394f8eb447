// SPDX-License-Identifier: Apache-2.0
// Package relay defines the envelopes skills use to surface results and
// prompts to the UI or to a sibling agent.
package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Content is the payload of an outbound message. Exactly one of the typed
// fields is normally set; Type names which.
type Content struct {
	Type         string         `json:"type"`
	Text         string         `json:"text,omitempty"`
	Card         map[string]any `json:"card,omitempty"`
	Code         string         `json:"code,omitempty"`
	Form         map[string]any `json:"form,omitempty"`
	Notification map[string]any `json:"notification,omitempty"`
	ITag         string         `json:"i_tag,omitempty"`
}

// Params is the inner body of an inter-agent envelope.
type Params struct {
	Content     Content        `json:"content"`
	Attachments []any          `json:"attachments,omitempty"`
	Role        string         `json:"role"`
	SenderID    string         `json:"senderId"`
	CreateAt    int64          `json:"createAt"`
	SenderName  string         `json:"senderName"`
	Status      string         `json:"status"`
	Ext         map[string]any `json:"ext,omitempty"`
	Human       bool           `json:"human"`
}

// Envelope is the standardized inter-agent message shape.
type Envelope struct {
	ID     string `json:"id"`
	Params Params `json:"params"`
}

// Sender delivers envelopes. Send must not block; a full target queue is an
// error surfaced to the caller.
type Sender interface {
	Send(ctx context.Context, target string, env Envelope) error
}

// NopSender drops every envelope. Useful in tests and detached runs.
type NopSender struct{}

func (NopSender) Send(context.Context, string, Envelope) error { return nil }

// NewEnvelope builds an envelope with generated id and timestamp.
func NewEnvelope(senderID, senderName, role string, content Content) Envelope {
	return Envelope{
		ID: uuid.NewString(),
		Params: Params{
			Content:    content,
			Role:       role,
			SenderID:   senderID,
			CreateAt:   time.Now().UnixMilli(),
			SenderName: senderName,
			Status:     "sent",
		},
	}
}

// TextMessage builds an assistant text envelope.
func TextMessage(senderID, senderName, text string) Envelope {
	return NewEnvelope(senderID, senderName, "assistant", Content{Type: "text", Text: text})
}
