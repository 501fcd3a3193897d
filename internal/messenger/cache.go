package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sigilix/internal/chat"
	"sigilix/internal/models"
)

// LoadAll replaces the cache with the backend's chat list. Chats already cached
// keep their identity and are updated in place; chats the backend no longer
// reports are dropped. The cache is untouched when the backend call fails.
func (s *Service) LoadAll(ctx context.Context) error {
	remote, err := s.backend.GetChats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chats: %w", err)
	}

	fresh := make(map[uint64]*chat.Chat, len(remote))
	for _, rc := range remote {
		fresh[rc.ChatID] = s.toChat(rc)
	}

	s.mutate(func(tx cacheTx) bool {
		for id := range tx.Snapshot() {
			if _, ok := fresh[id]; !ok {
				_ = tx.Del(id)
			}
		}
		for _, c := range fresh {
			upsert(tx, c)
		}
		return true
	})

	slog.Info("Chats loaded", "count", len(fresh))
	return nil
}

// Send sends text to the chat. Validation happens before Send returns; the
// backend call runs in the background and its outcome is reported through
// the active chat sink, the listeners or a popup.
func (s *Service) Send(ctx context.Context, chatID uint64, text string) error {
	if strings.TrimSpace(text) == "" {
		return s.popUp(ErrEmptyMessage)
	}
	if _, ok := s.Chat(chatID); !ok {
		return s.popUp(chatNotFound(chatID))
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closing || s.closed {
		return s.popUp(ErrSessionClosing)
	}

	ctx = context.WithoutCancel(ctx)
	s.wg.Go(func() {
		msg, err := s.backend.SendMessage(ctx, chatID, text)
		if err != nil {
			slog.Error("Failed to send message", "chat_id", chatID, "error", err)
			s.popUp(fmt.Errorf("failed to send message: %w", err))
			return
		}
		if msg.ChatID == 0 {
			msg.ChatID = chatID
		}
		if err := s.deliver(s.toMessage(msg)); err != nil {
			s.popUp(err)
		}
	})
	return nil
}

// Accept accepts an incoming chat request. Only the receiving side may accept
// and only once.
func (s *Service) Accept(ctx context.Context, chatID uint64) error {
	c, ok := s.Chat(chatID)
	switch {
	case !ok:
		return s.popUp(chatNotFound(chatID))
	case c.Accepted():
		return s.popUp(ErrAlreadyAccepted)
	case c.IsCreator():
		return s.popUp(ErrNotReceiver)
	}

	if err := s.backend.InitChatFromReceiver(ctx, chatID); err != nil {
		return s.popUp(fmt.Errorf("failed to accept chat: %w", err))
	}

	s.mutate(func(tx cacheTx) bool {
		c, err := tx.Get(chatID)
		if err != nil {
			// deleted while the backend call was in flight
			return false
		}
		return c.Accept()
	})
	return nil
}

// RequestChat asks the backend for a chat with a user given by name or id.
func (s *Service) RequestChat(ctx context.Context, usernameOrID string) (*chat.Chat, error) {
	usernameOrID = strings.TrimSpace(usernameOrID)
	if usernameOrID == "" {
		return nil, s.popUp(ErrInvalidUsername)
	}
	remote, err := s.backend.TryRequestChat(ctx, usernameOrID)
	if err != nil {
		return nil, s.popUp(fmt.Errorf("failed to request chat: %w", err))
	}
	return s.insert(remote), nil
}

// CreateChat starts a chat with a known user id.
func (s *Service) CreateChat(ctx context.Context, userID uint64) (*chat.Chat, error) {
	remote, err := s.backend.InitChatFromInitializer(ctx, userID)
	if err != nil {
		return nil, s.popUp(fmt.Errorf("failed to create chat: %w", err))
	}
	return s.insert(remote), nil
}

func (s *Service) insert(remote models.Chat) *chat.Chat {
	c := s.toChat(remote)
	var stored *chat.Chat
	s.mutate(func(tx cacheTx) bool {
		stored = upsert(tx, c)
		return true
	})
	return stored
}

func (s *Service) Rename(ctx context.Context, chatID uint64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return s.popUp(ErrEmptyTitle)
	}
	if _, ok := s.Chat(chatID); !ok {
		return s.popUp(chatNotFound(chatID))
	}

	if err := s.backend.RenameChat(ctx, chatID, title); err != nil {
		return s.popUp(fmt.Errorf("failed to rename chat: %w", err))
	}

	s.mutate(func(tx cacheTx) bool {
		c, err := tx.Get(chatID)
		if err != nil {
			return false
		}
		c.SetTitle(title)
		return true
	})
	return nil
}

// Delete removes a chat on the backend and from the cache. A second Delete
// for a chat whose deletion is still in flight does nothing.
func (s *Service) Delete(ctx context.Context, chatID uint64) error {
	if _, ok := s.Chat(chatID); !ok {
		return s.popUp(chatNotFound(chatID))
	}

	tx := s.deleting.Lock()
	if _, err := tx.Get(chatID); err == nil {
		tx.Unlock()
		slog.Debug("Delete already in flight", "chat_id", chatID)
		return nil
	}
	tx.Set(chatID, struct{}{})
	tx.Unlock()

	defer func() {
		tx := s.deleting.Lock()
		_ = tx.Del(chatID)
		tx.Unlock()
	}()

	if err := s.backend.DeleteChat(ctx, chatID); err != nil {
		return s.popUp(fmt.Errorf("failed to delete chat: %w", err))
	}

	s.mutate(func(tx cacheTx) bool {
		return tx.Del(chatID) == nil
	})
	return nil
}

// ReconcileIncomingChat merges a chat reported by the backend into the cache.
// An unseen id is inserted; a known one is updated in place.
func (s *Service) ReconcileIncomingChat(remote models.Chat) *chat.Chat {
	return s.insert(remote)
}

// ReconcileChatAccepted records that the other side accepted a chat we
// requested.
func (s *Service) ReconcileChatAccepted(remote models.Chat) *chat.Chat {
	c := s.toChat(remote)
	var stored *chat.Chat
	s.mutate(func(tx cacheTx) bool {
		stored = upsert(tx, c)
		stored.Accept()
		return true
	})
	return stored
}

// ReconcileIncomingMessage records a message that arrived from the backend.
func (s *Service) ReconcileIncomingMessage(chatID uint64, remote models.Message) error {
	msg := s.toMessage(remote)
	msg.ChatID = chatID
	return s.deliver(msg)
}

// deliver routes msg either to the active chat sink or into the cached chat,
// never to both.
func (s *Service) deliver(msg chat.Message) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	c, ok := s.Chat(msg.ChatID)
	if !ok {
		return chatNotFound(msg.ChatID)
	}

	s.activeMu.Lock()
	if s.activeSet && s.activeID == msg.ChatID {
		sink := s.activeSink
		s.activeMu.Unlock()
		sink(msg)
		s.eachListener(func(l Listener) { l.MessageDelivered(c, msg) })
		return nil
	}
	s.activeMu.Unlock()

	c.AddMessage(msg)
	s.eachListener(func(l Listener) { l.MessageStored(c, msg) })
	return nil
}
