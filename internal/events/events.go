// Package events turns untrusted backend notifications into typed domain
// events. Decode is the only place raw payloads are inspected.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"sigilix/internal/models"
)

var (
	ErrMalformed = errors.New("malformed notification")
)

// Event is one of IncomingChat, NewMessage, ChatAccepted or Unknown.
type Event interface {
	Kind() models.NotificationType
	event()
}

// IncomingChat reports a chat requested by another user.
type IncomingChat struct {
	Chat models.Chat
}

// NewMessage reports a message received in an existing chat.
type NewMessage struct {
	ChatID  uint64
	Message models.Message
}

// ChatAccepted reports that the other side accepted a chat we requested.
type ChatAccepted struct {
	Chat models.Chat
}

// Unknown carries a notification kind this client does not handle.
type Unknown struct {
	Type models.NotificationType
}

func (IncomingChat) Kind() models.NotificationType { return models.NotificationNewIncomingChat }
func (NewMessage) Kind() models.NotificationType   { return models.NotificationNewMessage }
func (ChatAccepted) Kind() models.NotificationType { return models.NotificationChatAccepted }
func (u Unknown) Kind() models.NotificationType    { return u.Type }

func (IncomingChat) event() {}
func (NewMessage) event()   {}
func (ChatAccepted) event() {}
func (Unknown) event()      {}

// Decode validates n and returns the matching event. Unrecognised kinds
// decode to Unknown without error.
func Decode(n models.Notification) (Event, error) {
	switch n.Type {
	case models.NotificationNewIncomingChat:
		var p models.IncomingChatPayload
		if err := unmarshal(n, &p); err != nil {
			return nil, err
		}
		if err := validChat(p.Chat); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, n.Type, err)
		}
		return IncomingChat{Chat: *p.Chat}, nil

	case models.NotificationNewMessage:
		var p models.NewMessagePayload
		if err := unmarshal(n, &p); err != nil {
			return nil, err
		}
		if p.Message == nil {
			return nil, fmt.Errorf("%w: %s: missing message", ErrMalformed, n.Type)
		}
		chatID := p.ChatID
		if chatID == 0 {
			chatID = p.Message.ChatID
		}
		if chatID == 0 {
			return nil, fmt.Errorf("%w: %s: missing chat id", ErrMalformed, n.Type)
		}
		if p.Message.ChatID != 0 && p.Message.ChatID != chatID {
			return nil, fmt.Errorf("%w: %s: message belongs to chat %d, not %d", ErrMalformed, n.Type, p.Message.ChatID, chatID)
		}
		msg := *p.Message
		msg.ChatID = chatID
		return NewMessage{ChatID: chatID, Message: msg}, nil

	case models.NotificationChatAccepted:
		var p models.ChatAcceptedPayload
		if err := unmarshal(n, &p); err != nil {
			return nil, err
		}
		if err := validChat(p.Chat); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, n.Type, err)
		}
		return ChatAccepted{Chat: *p.Chat}, nil

	default:
		return Unknown{Type: n.Type}, nil
	}
}

func unmarshal(n models.Notification, v any) error {
	if len(n.Notification) == 0 {
		return fmt.Errorf("%w: %s: empty payload", ErrMalformed, n.Type)
	}
	if err := json.Unmarshal(n.Notification, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, n.Type, err)
	}
	return nil
}

func validChat(c *models.Chat) error {
	if c == nil {
		return errors.New("missing chat")
	}
	if c.ChatID == 0 {
		return errors.New("missing chat id")
	}
	return nil
}
