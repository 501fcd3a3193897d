package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
)

// Chat is the backend representation of a conversation.
type Chat struct {
	ChatID        uint64    `json:"chat_id"`
	OtherUserID   uint64    `json:"other_user_id"`
	LastMessageID uint64    `json:"last_message_id"`
	AmIInitiator  bool      `json:"am_i_initiator"`
	Accepted      bool      `json:"accepted"`
	Title         string    `json:"title"`
	Messages      []Message `json:"messages"`
}

// Message is the backend representation of a chat line.
type Message struct {
	MessageID uint64 `json:"message_id"`
	ChatID    uint64 `json:"chat_id"`
	SenderID  uint64 `json:"sender_id"`
	Content   string `json:"content"`
}

type NotificationType string

const (
	NotificationNewIncomingChat NotificationType = "new_incoming_chat"
	NotificationNewMessage      NotificationType = "new_message"
	NotificationChatAccepted    NotificationType = "chat_accepted"
)

// Notification is one pending backend event as returned by
// PullNotificationsAndUpdateData. The payload shape depends on Type.
type Notification struct {
	Type         NotificationType `json:"type"`
	Notification json.RawMessage  `json:"notification"`
}

type IncomingChatPayload struct {
	Chat *Chat `json:"chat"`
}

type NewMessagePayload struct {
	ChatID  uint64   `json:"chat_id,omitempty"`
	Message *Message `json:"message,omitempty"`
}

type ChatAcceptedPayload struct {
	Chat *Chat `json:"chat"`
}

// View names returned by the backend GetState call.
const (
	StateSignUp    = "signup"
	StateLogin     = "login"
	StateMessenger = "messenger"
)

// ViewChat is a chat as sent to connected views.
type ViewChat struct {
	ID          uint64        `json:"id"`
	Title       string        `json:"title"`
	IsCreator   bool          `json:"isCreator"`
	IsAccepted  bool          `json:"isAccepted"`
	OtherUserID uint64        `json:"otherUserId"`
	Preview     string        `json:"preview"`
	Messages    []ViewMessage `json:"messages,omitempty"`
}

// ViewMessage is a message as sent to connected views.
type ViewMessage struct {
	ID       uint64 `json:"id"`
	ChatID   uint64 `json:"chatId"`
	SentByUs bool   `json:"sentByUs"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// PopUp is a user-visible notice.
type PopUp struct {
	Message  string `json:"message"`
	Action   string `json:"action"`
	Severity string `json:"severity"`
}

// ClientMessage represents a message sent from a view to the daemon.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	ChatID uint64            `json:"chatId,omitempty"`
	Text   string            `json:"text,omitempty"`
	Target string            `json:"target,omitempty"`
}

// ServerMessage represents a message to a view.
type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	ChatID  uint64            `json:"chatId,omitempty"`
	Chats   []ViewChat        `json:"chats,omitempty"`
	Message *ViewMessage      `json:"message,omitempty"`
	PopUp   *PopUp            `json:"popup,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeOpenChat    ClientMessageType = "open_chat"
	ClientMessageTypeCloseChat   ClientMessageType = "close_chat"
	ClientMessageTypeSend        ClientMessageType = "send"
	ClientMessageTypeAccept      ClientMessageType = "accept"
	ClientMessageTypeRequestChat ClientMessageType = "request_chat"
	ClientMessageTypeRename      ClientMessageType = "rename"
	ClientMessageTypeDelete      ClientMessageType = "delete"
	ClientMessageTypeRefresh     ClientMessageType = "refresh"
)

type ServerMessageType string

const (
	// ServerMessageTypeChats carries the full chat list.
	ServerMessageTypeChats ServerMessageType = "chats"
	// ServerMessageTypeMessage carries one message for the open chat.
	ServerMessageTypeMessage ServerMessageType = "message"
	// ServerMessageTypeStored carries one message stored into a background chat.
	ServerMessageTypeStored ServerMessageType = "stored"
	// ServerMessageTypeOpened carries the chat just opened, with messages.
	ServerMessageTypeOpened ServerMessageType = "opened"
	ServerMessageTypePopUp  ServerMessageType = "popup"
)

// APIResponse is the generic JSON reply of the view and admin APIs.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
