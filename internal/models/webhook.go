package models

import (
	"strings"

	"reminder-service/internal/apperrors"
)

// TriggerType selects the control path of a run trigger.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerWebhook   TriggerType = "webhook"
)

// TriggerRequest is the body accepted by every run trigger surface.
type TriggerRequest struct {
	Type   TriggerType    `json:"type"`
	Events []WebhookEvent `json:"events,omitempty"`
}

// TriggerResult is returned to the caller of a trigger.
type TriggerResult struct {
	Message string      `json:"message"`
	Summary *RunSummary `json:"summary,omitempty"`
}

// WebhookEvent is the wire shape of one inbound chat event.
type WebhookEvent struct {
	Type    string          `json:"type"`
	Source  WebhookSource   `json:"source"`
	Message *WebhookMessage `json:"message,omitempty"`
}

type WebhookSource struct {
	RecipientID string `json:"recipientId"`
	// UserID is accepted as an alias of RecipientID.
	UserID string `json:"userId,omitempty"`
}

type WebhookMessage struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// InboundEvent is one validated inbound chat event. The concrete type is one
// of MessageEvent, FollowEvent or UnfollowEvent.
type InboundEvent interface {
	RecipientID() string
	inboundEvent()
}

// MessageEvent is a text message sent by a user.
type MessageEvent struct {
	Recipient string
	Text      string
}

// FollowEvent is emitted when a user adds the bot.
type FollowEvent struct {
	Recipient string
}

// UnfollowEvent is emitted when a user blocks or removes the bot.
type UnfollowEvent struct {
	Recipient string
}

func (e MessageEvent) RecipientID() string  { return e.Recipient }
func (e FollowEvent) RecipientID() string   { return e.Recipient }
func (e UnfollowEvent) RecipientID() string { return e.Recipient }

func (MessageEvent) inboundEvent()  {}
func (FollowEvent) inboundEvent()   {}
func (UnfollowEvent) inboundEvent() {}

// DecodeInboundEvents validates wire events and converts them into the
// tagged union. Messages that are not text are dropped. Events of a type the
// service does not handle are skipped and their types returned in ignored.
func DecodeInboundEvents(raw []WebhookEvent) (events []InboundEvent, ignored []string, err error) {
	events = make([]InboundEvent, 0, len(raw))
	for i, we := range raw {
		switch we.Type {
		case "message", "follow", "unfollow":
		default:
			ignored = append(ignored, we.Type)
			continue
		}

		recipient := strings.TrimSpace(we.Source.RecipientID)
		if recipient == "" {
			recipient = strings.TrimSpace(we.Source.UserID)
		}
		if recipient == "" {
			return nil, nil, invalidEvent(i, we.Type, "source.recipientId is required")
		}

		switch we.Type {
		case "message":
			if we.Message == nil {
				return nil, nil, invalidEvent(i, we.Type, "message is required")
			}
			if we.Message.Type != "" && we.Message.Type != "text" {
				continue
			}
			events = append(events, MessageEvent{Recipient: recipient, Text: we.Message.Text})
		case "follow":
			events = append(events, FollowEvent{Recipient: recipient})
		case "unfollow":
			events = append(events, UnfollowEvent{Recipient: recipient})
		}
	}
	return events, ignored, nil
}

func invalidEvent(index int, typ, msg string) error {
	return apperrors.New(apperrors.KindValidation, "webhook.decode", msg, map[string]any{
		"index": index,
		"type":  typ,
	})
}
