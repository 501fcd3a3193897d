package ws

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"sigilix/internal/chat"
	"sigilix/internal/content"
	"sigilix/internal/messenger"
	"sigilix/internal/metrics"
	"sigilix/internal/models"
)

const (
	viewBuffer    = 100
	previewLength = 20
)

// Hub fans cache changes out to connected views.
type Hub struct {
	messenger.NopListener

	// Map of connection id -> outgoing channel
	connected map[string]chan models.ServerMessage

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		connected: make(map[string]chan models.ServerMessage),
	}
}

// Join registers a view and returns its id and outgoing channel.
func (h *Hub) Join() (string, chan models.ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan models.ServerMessage, viewBuffer)
	h.connected[id] = ch
	metrics.ViewConnected()
	return id, ch
}

func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.connected[id]; ok {
		close(ch)
		delete(h.connected, id)
		metrics.ViewDisconnected()
	}
}

// Send queues msg for one view. A view that does not keep up loses
// messages rather than stalling the cache.
func (h *Hub) Send(id string, msg models.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.connected[id]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		slog.Warn("View too slow, message dropped", "view", id, "type", msg.Type)
	}
}

func (h *Hub) broadcast(msg models.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.connected {
		select {
		case ch <- msg:
		default:
			slog.Warn("View too slow, message dropped", "view", id, "type", msg.Type)
		}
	}
}

func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connected)
}

func (h *Hub) ChatsChanged(chats []*chat.Chat) {
	h.broadcast(models.ServerMessage{
		Type:  models.ServerMessageTypeChats,
		Chats: ViewChats(chats),
	})
}

func (h *Hub) MessageStored(c *chat.Chat, msg chat.Message) {
	view := ViewMessage(msg)
	h.broadcast(models.ServerMessage{
		Type:    models.ServerMessageTypeStored,
		ChatID:  c.ID,
		Message: &view,
	})
}

func (h *Hub) PopUp(p messenger.PopUp) {
	h.broadcast(popUpMessage(p))
}

func popUpMessage(p messenger.PopUp) models.ServerMessage {
	return models.ServerMessage{
		Type: models.ServerMessageTypePopUp,
		PopUp: &models.PopUp{
			Message:  p.Message,
			Action:   p.Action,
			Severity: p.Severity,
		},
	}
}

// ViewChats converts chats for the chat list, without messages.
func ViewChats(chats []*chat.Chat) []models.ViewChat {
	result := make([]models.ViewChat, 0, len(chats))
	for _, c := range chats {
		result = append(result, viewChat(c, false))
	}
	return result
}

// ViewChat converts one chat including its messages.
func ViewChat(c *chat.Chat) models.ViewChat {
	return viewChat(c, true)
}

func viewChat(c *chat.Chat, withMessages bool) models.ViewChat {
	vc := models.ViewChat{
		ID:          c.ID,
		Title:       c.Title(),
		IsCreator:   c.IsCreator(),
		IsAccepted:  c.Accepted(),
		OtherUserID: c.OtherUserID(),
		Preview:     c.LastMessagePreview(previewLength),
	}
	if withMessages {
		messages := c.Messages()
		vc.Messages = make([]models.ViewMessage, 0, len(messages))
		for _, m := range messages {
			vc.Messages = append(vc.Messages, ViewMessage(m))
		}
	}
	return vc
}

func ViewMessage(m chat.Message) models.ViewMessage {
	return models.ViewMessage{
		ID:       m.ID,
		ChatID:   m.ChatID,
		SentByUs: m.SentByUs,
		Text:     m.Text,
		HTML:     content.Render(m.Text),
	}
}

var _ messenger.Listener = (*Hub)(nil)
