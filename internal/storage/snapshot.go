package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"sigilix/internal/chat"
	"sigilix/internal/messenger"
)

// Snapshotter keeps the stored snapshot in step with the chat cache. It
// only records the latest chat list in the listener callbacks; Run writes it
// out.
type Snapshotter struct {
	messenger.NopListener

	store *BboltStorage

	mu     sync.Mutex
	latest []*chat.Chat
	dirty  bool
	notify chan struct{}
}

func NewSnapshotter(store *BboltStorage) *Snapshotter {
	return &Snapshotter{
		store:  store,
		notify: make(chan struct{}, 1),
	}
}

func (s *Snapshotter) ChatsChanged(chats []*chat.Chat) {
	s.mu.Lock()
	s.latest = chats
	s.dirty = true
	s.mu.Unlock()
	s.wake()
}

// MessageStored marks the snapshot dirty; the message is already part of the
// chat objects held from the last ChatsChanged.
func (s *Snapshotter) MessageStored(*chat.Chat, chat.Message) {
	s.touch()
}

// MessageDelivered marks the snapshot dirty for messages of the open chat.
// The view's sink appends them to the same chat objects.
func (s *Snapshotter) MessageDelivered(*chat.Chat, chat.Message) {
	s.touch()
}

func (s *Snapshotter) touch() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.wake()
}

func (s *Snapshotter) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run writes the snapshot whenever it changes until ctx is done, then writes
// it one last time.
func (s *Snapshotter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case <-s.notify:
			s.flush()
		}
	}
}

func (s *Snapshotter) flush() {
	s.mu.Lock()
	if !s.dirty || s.latest == nil {
		s.mu.Unlock()
		return
	}
	chats := s.latest
	s.dirty = false
	s.mu.Unlock()

	if err := s.store.SaveChats(chats); err != nil {
		if errors.Is(err, ErrSealed) {
			slog.Debug("Snapshot skipped, storage sealed")
			return
		}
		slog.Error("Failed to save snapshot", "error", err)
		return
	}
	slog.Debug("Snapshot saved", "chats", len(chats))
}
