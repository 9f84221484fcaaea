// Package chat is the Tier-1 delivery contract: a direct, low-latency call
// to the external chat service SDK (spec §4.6). It also parses inbound
// interactive callbacks (approve/deny/command) before they reach C8.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/cctelegram/bridge/pkg/events"
	"github.com/cctelegram/bridge/pkg/largemsg"
)

// Message is the chat-native rendering of an Event, built by the tier
// orchestrator before dispatch.
type Message struct {
	Text        string
	Attachments []slack.Attachment
}

// Client is the Tier-1 delivery contract. Implementations must return
// promptly — the orchestrator enforces the tier-1 deadline independently
// via context.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookClient dispatches messages to a configured chat webhook URL.
type WebhookClient struct {
	webhookURL string
}

// NewWebhookClient returns a Client bound to webhookURL.
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{webhookURL: webhookURL}
}

// Send posts msg to the configured webhook. The call is expected to
// complete (or be cancelled by ctx) well within the Tier-1 deadline. Text
// exceeding the large-message protocol's chunk size (spec §4.10) is split
// and sent as a numbered sequence of messages; the attachments (if any) ride
// on the final chunk.
func (c *WebhookClient) Send(ctx context.Context, msg Message) error {
	if len(msg.Text) <= largemsg.ChunkBytes {
		return c.sendOnce(ctx, msg)
	}

	chunks := largemsg.Split(events.NewEventID(), []byte(msg.Text))
	for _, chunk := range chunks {
		part := Message{Text: fmt.Sprintf("[%d/%d] %s", chunk.Index+1, chunk.Total, chunk.Data)}
		if chunk.Index == chunk.Total-1 {
			part.Attachments = msg.Attachments
		}
		if err := c.sendOnce(ctx, part); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", chunk.Index+1, chunk.Total, err)
		}
	}
	return nil
}

func (c *WebhookClient) sendOnce(ctx context.Context, msg Message) error {
	payload := &slack.WebhookMessage{
		Text:        msg.Text,
		Attachments: msg.Attachments,
	}
	if err := slack.PostWebhookContext(ctx, c.webhookURL, payload); err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	return nil
}

// RenderEvent converts e into a chat Message with an approve/deny action
// pair for approval-flow event types.
func RenderEvent(e events.Event) Message {
	msg := Message{Text: fmt.Sprintf("*%s*\n%s", e.Title, e.Description)}
	if e.Type == events.TypeApprovalRequest && e.TaskID != "" {
		msg.Attachments = []slack.Attachment{{
			CallbackID: "task_" + e.TaskID,
			Actions: []slack.AttachmentAction{
				{Name: "approve", Text: "Approve", Type: "button", Value: "approve_" + e.TaskID},
				{Name: "deny", Text: "Deny", Type: "button", Value: "deny_" + e.TaskID},
			},
		}}
	}
	return msg
}

// CallbackKind classifies a parsed interactive callback value.
type CallbackKind string

const (
	CallbackApprove CallbackKind = "approve"
	CallbackDeny    CallbackKind = "deny"
	CallbackCommand CallbackKind = "command"
	CallbackUnknown CallbackKind = "unknown"
)

// Callback is a parsed interactive action, ready for the response
// correlator (C8).
type Callback struct {
	Kind    CallbackKind
	TaskID  string
	Command string
	UserID  int64
}

// ParseCallback extracts the callback kind and payload from a raw action
// value such as "approve_<task_id>", "deny_<task_id>", or
// "cmd_<command>" (spec §4.8).
func ParseCallback(value string, userID int64) Callback {
	switch {
	case strings.HasPrefix(value, "approve_"):
		return Callback{Kind: CallbackApprove, TaskID: strings.TrimPrefix(value, "approve_"), UserID: userID}
	case strings.HasPrefix(value, "deny_"):
		return Callback{Kind: CallbackDeny, TaskID: strings.TrimPrefix(value, "deny_"), UserID: userID}
	case strings.HasPrefix(value, "cmd_"):
		return Callback{Kind: CallbackCommand, Command: strings.TrimPrefix(value, "cmd_"), UserID: userID}
	default:
		return Callback{Kind: CallbackUnknown, UserID: userID}
	}
}
