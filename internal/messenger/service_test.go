package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sigilix/internal/chat"
	"sigilix/internal/events"
	"sigilix/internal/mocks"
	"sigilix/internal/models"
)

const ourID = 7

type recorder struct {
	NopListener

	mu     sync.Mutex
	chats  [][]*chat.Chat
	stored    []chat.Message
	delivered []chat.Message
	popups    []PopUp
	ended     int
}

func (r *recorder) ChatsChanged(chats []*chat.Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chats)
}

func (r *recorder) MessageStored(_ *chat.Chat, msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, msg)
}

func (r *recorder) MessageDelivered(_ *chat.Chat, msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, msg)
}

func (r *recorder) SessionEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
}

func (r *recorder) deliveredMessages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Message(nil), r.delivered...)
}

func (r *recorder) sessionsEnded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

func (r *recorder) PopUp(p PopUp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.popups = append(r.popups, p)
}

func (r *recorder) chatsCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}

func (r *recorder) lastChats() []*chat.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chats) == 0 {
		return nil
	}
	return r.chats[len(r.chats)-1]
}

func (r *recorder) storedMessages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Message(nil), r.stored...)
}

func (r *recorder) popUps() []PopUp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PopUp(nil), r.popups...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats, r.stored, r.delivered, r.popups = nil, nil, nil, nil
}

func newTestService(t *testing.T) (*Service, *mocks.BackendMock, *recorder) {
	t.Helper()
	backend := &mocks.BackendMock{}
	s := New(context.Background(), Config{Backend: backend, PollInterval: time.Hour})
	s.userID = ourID
	s.loggedIn = true
	rec := &recorder{}
	s.Subscribe(rec)
	t.Cleanup(s.Close)
	return s, backend, rec
}

func remoteChat(id uint64, accepted bool, messages int) models.Chat {
	c := models.Chat{
		ChatID:      id,
		OtherUserID: 100 + id,
		Accepted:    accepted,
		Title:       "chat",
	}
	for i := range messages {
		sender := uint64(ourID)
		if i%2 == 1 {
			sender = 100 + id
		}
		c.Messages = append(c.Messages, models.Message{
			MessageID: uint64(i + 1),
			ChatID:    id,
			SenderID:  sender,
			Content:   "text",
		})
	}
	return c
}

func seed(t *testing.T, s *Service, rec *recorder, chats ...models.Chat) {
	t.Helper()
	for _, c := range chats {
		s.ReconcileIncomingChat(c)
	}
	rec.reset()
}

func notification(t *testing.T, typ models.NotificationType, payload any) models.Notification {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.Notification{Type: typ, Notification: raw}
}

func TestService_LoadAll(t *testing.T) {
	t.Run("Two chats", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		backend.On("GetChats", mock.Anything).
			Return([]models.Chat{remoteChat(1, true, 3), remoteChat(2, false, 0)}, nil)

		require.NoError(t, s.LoadAll(context.Background()))

		chats := s.Chats()
		require.Len(t, chats, 2)
		require.Equal(t, uint64(1), chats[0].ID)
		require.Equal(t, 3, chats[0].MessageCount())
		require.True(t, chats[0].Accepted())
		require.Equal(t, uint64(2), chats[1].ID)
		require.Equal(t, 0, chats[1].MessageCount())
		require.False(t, chats[1].Accepted())
		require.Equal(t, 1, rec.chatsCalls())

		msgs := chats[0].Messages()
		require.True(t, msgs[0].SentByUs)
		require.False(t, msgs[1].SentByUs)
	})

	t.Run("Idempotent", func(t *testing.T) {
		s, backend, _ := newTestService(t)
		backend.On("GetChats", mock.Anything).
			Return([]models.Chat{remoteChat(1, true, 3), remoteChat(2, false, 0)}, nil)

		require.NoError(t, s.LoadAll(context.Background()))
		first, ok := s.Chat(1)
		require.True(t, ok)

		require.NoError(t, s.LoadAll(context.Background()))
		second, ok := s.Chat(1)
		require.True(t, ok)

		require.Same(t, first, second)
		require.Len(t, s.Chats(), 2)
		require.Equal(t, 3, second.MessageCount())
	})

	t.Run("Drops chats missing on backend", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 1), remoteChat(2, false, 0))
		backend.On("GetChats", mock.Anything).Return([]models.Chat{remoteChat(1, true, 2)}, nil)

		require.NoError(t, s.LoadAll(context.Background()))

		_, ok := s.Chat(2)
		require.False(t, ok)
		c, ok := s.Chat(1)
		require.True(t, ok)
		require.Equal(t, 2, c.MessageCount())
	})

	t.Run("Failure leaves cache untouched", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 1))
		backend.On("GetChats", mock.Anything).Return(nil, errors.New("backend down"))

		err := s.LoadAll(context.Background())
		require.Error(t, err)

		require.Len(t, s.Chats(), 1)
		require.Zero(t, rec.chatsCalls())
		require.Empty(t, rec.popUps())
	})
}

func TestService_ReconcileIncomingChat(t *testing.T) {
	s, _, rec := newTestService(t)

	remote := remoteChat(5, false, 2)
	first := s.ReconcileIncomingChat(remote)
	second := s.ReconcileIncomingChat(remote)

	require.Same(t, first, second)
	require.Len(t, s.Chats(), 1)
	require.Equal(t, 2, second.MessageCount())
	require.Equal(t, 2, rec.chatsCalls())

	remote.Title = "renamed"
	remote.Messages = remote.Messages[:1]
	third := s.ReconcileIncomingChat(remote)
	require.Same(t, first, third)
	require.Equal(t, "renamed", first.Title())
	require.Equal(t, 1, first.MessageCount())

	for i := uint64(10); i < 15; i++ {
		s.ReconcileIncomingChat(remoteChat(i, false, 0))
		s.ReconcileIncomingChat(remoteChat(i, false, 0))
	}
	ids := make(map[uint64]int)
	for _, c := range s.Chats() {
		ids[c.ID]++
	}
	require.Len(t, ids, 6)
	for id, n := range ids {
		require.Equal(t, 1, n, "chat %d", id)
	}
}

func TestService_Accept(t *testing.T) {
	rejected := []struct {
		name   string
		chat   models.Chat
		target uint64
		want   error
	}{
		{name: "Unknown chat", chat: remoteChat(1, false, 0), target: 9, want: ErrChatNotFound},
		{name: "Already accepted", chat: remoteChat(1, true, 0), target: 1, want: ErrAlreadyAccepted},
		{name: "Creator", chat: func() models.Chat {
			c := remoteChat(1, false, 0)
			c.AmIInitiator = true
			return c
		}(), target: 1, want: ErrNotReceiver},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			s, backend, rec := newTestService(t)
			seed(t, s, rec, tt.chat)
			before, _ := s.Chat(tt.chat.ChatID)
			wasAccepted := before.Accepted()

			err := s.Accept(context.Background(), tt.target)
			require.ErrorIs(t, err, tt.want)

			require.Equal(t, wasAccepted, before.Accepted())
			require.Zero(t, rec.chatsCalls())
			require.Len(t, rec.popUps(), 1)
			require.Equal(t, SeverityDanger, rec.popUps()[0].Severity)
			backend.AssertNotCalled(t, "InitChatFromReceiver", mock.Anything, mock.Anything)
		})
	}

	t.Run("Unknown chat is not found", func(t *testing.T) {
		s, _, _ := newTestService(t)
		err := s.Accept(context.Background(), 42)
		require.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("Success", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, false, 0))
		backend.On("InitChatFromReceiver", mock.Anything, uint64(1)).Return(nil).Once()

		require.NoError(t, s.Accept(context.Background(), 1))

		c, _ := s.Chat(1)
		require.True(t, c.Accepted())
		require.Equal(t, 1, rec.chatsCalls())
		require.Empty(t, rec.popUps())
		backend.AssertExpectations(t)
	})

	t.Run("Backend failure", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, false, 0))
		backend.On("InitChatFromReceiver", mock.Anything, uint64(1)).Return(errors.New("boom"))

		require.Error(t, s.Accept(context.Background(), 1))

		c, _ := s.Chat(1)
		require.False(t, c.Accepted())
		require.Zero(t, rec.chatsCalls())
		require.Len(t, rec.popUps(), 1)
	})
}

func TestService_ReconcileIncomingMessage(t *testing.T) {
	s, _, rec := newTestService(t)
	seed(t, s, rec, remoteChat(1, true, 2), remoteChat(2, true, 2))

	var sunk []chat.Message
	s.SetActiveChat(1, func(msg chat.Message) { sunk = append(sunk, msg) })

	incoming := models.Message{MessageID: 3, SenderID: 101, Content: "to open chat"}
	require.NoError(t, s.ReconcileIncomingMessage(1, incoming))

	open, _ := s.Chat(1)
	require.Equal(t, 2, open.MessageCount())
	require.Len(t, sunk, 1)
	require.Equal(t, "to open chat", sunk[0].Text)
	require.False(t, sunk[0].SentByUs)
	require.Empty(t, rec.storedMessages())

	incoming = models.Message{MessageID: 3, SenderID: 102, Content: "to background chat"}
	require.NoError(t, s.ReconcileIncomingMessage(2, incoming))

	background, _ := s.Chat(2)
	require.Equal(t, 3, background.MessageCount())
	last, ok := background.LastMessage()
	require.True(t, ok)
	require.Equal(t, "to background chat", last.Text)
	require.Len(t, sunk, 1)
	require.Len(t, rec.storedMessages(), 1)

	err := s.ReconcileIncomingMessage(9, incoming)
	require.ErrorIs(t, err, ErrChatNotFound)
	require.Len(t, sunk, 1)
	require.Len(t, rec.storedMessages(), 1)

	s.ClearActiveChat()
	require.NoError(t, s.ReconcileIncomingMessage(1, models.Message{MessageID: 4, SenderID: ourID, Content: "later"}))
	require.Equal(t, 3, open.MessageCount())
	last, _ = open.LastMessage()
	require.True(t, last.SentByUs)
	require.Len(t, sunk, 1)
}

func TestService_Send(t *testing.T) {
	t.Run("Active chat", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 3))
		backend.On("SendMessage", mock.Anything, uint64(1), "hi").
			Return(models.Message{MessageID: 4, ChatID: 1, SenderID: ourID, Content: "hi"}, nil).Once()

		sunk := make(chan chat.Message, 2)
		s.SetActiveChat(1, func(msg chat.Message) { sunk <- msg })

		require.NoError(t, s.Send(context.Background(), 1, "hi"))
		s.wg.Wait()

		require.Len(t, sunk, 1)
		msg := <-sunk
		require.Equal(t, "hi", msg.Text)
		require.True(t, msg.SentByUs)
		require.Equal(t, uint64(4), msg.ID)

		c, _ := s.Chat(1)
		require.Equal(t, 3, c.MessageCount())
		require.Empty(t, rec.storedMessages())
	})

	t.Run("Background chat", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 3))
		backend.On("SendMessage", mock.Anything, uint64(1), "hi").
			Return(models.Message{MessageID: 4, ChatID: 1, SenderID: ourID, Content: "hi"}, nil).Once()

		require.NoError(t, s.Send(context.Background(), 1, "hi"))
		s.wg.Wait()

		c, _ := s.Chat(1)
		require.Equal(t, 4, c.MessageCount())
		require.Len(t, rec.storedMessages(), 1)
	})

	t.Run("Validation", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))

		require.ErrorIs(t, s.Send(context.Background(), 1, "  "), ErrEmptyMessage)
		require.ErrorIs(t, s.Send(context.Background(), 2, "hi"), ErrChatNotFound)
		s.wg.Wait()

		require.Len(t, rec.popUps(), 2)
		backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Backend failure", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))
		backend.On("SendMessage", mock.Anything, uint64(1), "hi").
			Return(nil, errors.New("offline")).Once()

		require.NoError(t, s.Send(context.Background(), 1, "hi"))
		s.wg.Wait()

		c, _ := s.Chat(1)
		require.Zero(t, c.MessageCount())
		require.Len(t, rec.popUps(), 1)
		require.Contains(t, rec.popUps()[0].Message, "offline")
	})

	t.Run("Caller context cancelled", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))
		var sendErr error
		backend.On("SendMessage", mock.Anything, uint64(1), "hi").
			Run(func(args mock.Arguments) {
				sendErr = args.Get(0).(context.Context).Err()
			}).
			Return(models.Message{MessageID: 1, ChatID: 1, SenderID: ourID, Content: "hi"}, nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, s.Send(ctx, 1, "hi"))
		cancel()
		s.wg.Wait()

		require.NoError(t, sendErr)
		c, _ := s.Chat(1)
		require.Equal(t, 1, c.MessageCount())
	})
}

func TestService_RequestChat(t *testing.T) {
	s, backend, rec := newTestService(t)
	backend.On("TryRequestChat", mock.Anything, "alice").Return(remoteChat(3, false, 0), nil).Once()
	backend.On("TryRequestChat", mock.Anything, "nobody").Return(nil, errors.New("user not found")).Once()

	c, err := s.RequestChat(context.Background(), " alice ")
	require.NoError(t, err)
	require.Equal(t, uint64(3), c.ID)
	require.Equal(t, 1, rec.chatsCalls())
	require.Len(t, rec.lastChats(), 1)

	_, err = s.RequestChat(context.Background(), "nobody")
	require.Error(t, err)
	require.Len(t, rec.popUps(), 1)
	require.Len(t, s.Chats(), 1)

	_, err = s.RequestChat(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidUsername)
}

func TestService_CreateChat(t *testing.T) {
	s, backend, rec := newTestService(t)
	created := remoteChat(4, false, 0)
	created.AmIInitiator = true
	backend.On("InitChatFromInitializer", mock.Anything, uint64(104)).Return(created, nil).Once()

	c, err := s.CreateChat(context.Background(), 104)
	require.NoError(t, err)
	require.True(t, c.IsCreator())
	require.Equal(t, uint64(104), c.OtherUserID())
	require.Equal(t, 1, rec.chatsCalls())
}

func TestService_Rename(t *testing.T) {
	s, backend, rec := newTestService(t)
	seed(t, s, rec, remoteChat(1, true, 0))
	backend.On("RenameChat", mock.Anything, uint64(1), "Friends").Return(nil).Once()

	require.ErrorIs(t, s.Rename(context.Background(), 1, " "), ErrEmptyTitle)
	require.ErrorIs(t, s.Rename(context.Background(), 2, "Friends"), ErrChatNotFound)
	require.Zero(t, rec.chatsCalls())

	require.NoError(t, s.Rename(context.Background(), 1, "Friends"))
	c, _ := s.Chat(1)
	require.Equal(t, "Friends", c.Title())
	require.Equal(t, 1, rec.chatsCalls())
	backend.AssertExpectations(t)
}

func TestService_Delete(t *testing.T) {
	t.Run("Removes chat", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0), remoteChat(2, true, 0))
		backend.On("DeleteChat", mock.Anything, uint64(1)).Return(nil).Once()

		require.NoError(t, s.Delete(context.Background(), 1))

		_, ok := s.Chat(1)
		require.False(t, ok)
		require.Equal(t, 1, rec.chatsCalls())
		for _, c := range rec.lastChats() {
			require.NotEqual(t, uint64(1), c.ID)
		}
		require.Len(t, rec.lastChats(), 1)

		err := s.Delete(context.Background(), 1)
		require.ErrorIs(t, err, ErrChatNotFound)
		backend.AssertNumberOfCalls(t, "DeleteChat", 1)
	})

	t.Run("Backend failure keeps chat", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))
		backend.On("DeleteChat", mock.Anything, uint64(1)).Return(errors.New("boom")).Once()

		require.Error(t, s.Delete(context.Background(), 1))
		_, ok := s.Chat(1)
		require.True(t, ok)
		require.Len(t, rec.popUps(), 1)
	})

	t.Run("Second delete while in flight", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))

		started := make(chan struct{})
		release := make(chan struct{})
		backend.On("DeleteChat", mock.Anything, uint64(1)).
			Run(func(mock.Arguments) {
				close(started)
				<-release
			}).
			Return(nil).Once()

		errs := make(chan error, 1)
		go func() { errs <- s.Delete(context.Background(), 1) }()
		<-started

		require.NoError(t, s.Delete(context.Background(), 1))
		close(release)
		require.NoError(t, <-errs)

		backend.AssertNumberOfCalls(t, "DeleteChat", 1)
		require.Empty(t, rec.popUps())
		_, ok := s.Chat(1)
		require.False(t, ok)
	})
}

func TestService_PollOnce(t *testing.T) {
	t.Run("Chat accepted", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		requested := remoteChat(2, false, 0)
		requested.AmIInitiator = true
		seed(t, s, rec, requested)
		before, _ := s.Chat(2)

		accepted := requested
		accepted.Accepted = true
		backend.On("PullNotificationsAndUpdateData", mock.Anything).Return([]models.Notification{
			notification(t, models.NotificationChatAccepted, models.ChatAcceptedPayload{Chat: &accepted}),
		}, nil).Once()

		require.NoError(t, s.PollOnce(context.Background()))

		c, _ := s.Chat(2)
		require.Same(t, before, c)
		require.True(t, c.Accepted())
		require.Equal(t, 1, rec.chatsCalls())
	})

	t.Run("Unknown type", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 1))
		backend.On("PullNotificationsAndUpdateData", mock.Anything).Return([]models.Notification{
			{Type: "foo", Notification: json.RawMessage(`{"anything":1}`)},
		}, nil).Twice()

		require.NoError(t, s.PollOnce(context.Background()))
		require.NoError(t, s.PollOnce(context.Background()))

		require.Len(t, s.Chats(), 1)
		c, _ := s.Chat(1)
		require.Equal(t, 1, c.MessageCount())
		require.Zero(t, rec.chatsCalls())
		require.Empty(t, rec.storedMessages())
		require.Empty(t, rec.popUps())
	})

	t.Run("Mixed batch", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))
		incoming := remoteChat(3, false, 1)
		backend.On("PullNotificationsAndUpdateData", mock.Anything).Return([]models.Notification{
			{Type: models.NotificationNewMessage, Notification: json.RawMessage(`{"chat_id":1}`)},
			notification(t, models.NotificationNewIncomingChat, models.IncomingChatPayload{Chat: &incoming}),
			notification(t, models.NotificationNewMessage, models.NewMessagePayload{
				ChatID:  1,
				Message: &models.Message{MessageID: 1, ChatID: 1, SenderID: 101, Content: "hey"},
			}),
			notification(t, models.NotificationNewMessage, models.NewMessagePayload{
				ChatID:  9,
				Message: &models.Message{MessageID: 1, ChatID: 9, SenderID: 109, Content: "lost"},
			}),
		}, nil).Once()

		require.NoError(t, s.PollOnce(context.Background()))

		require.Len(t, s.Chats(), 2)
		c, _ := s.Chat(1)
		require.Equal(t, 1, c.MessageCount())
		require.Len(t, rec.storedMessages(), 1)
		require.Equal(t, 1, rec.chatsCalls())
		require.Empty(t, rec.popUps())
	})

	t.Run("Pull failure", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		backend.On("PullNotificationsAndUpdateData", mock.Anything).Return(nil, errors.New("timeout")).Once()

		require.Error(t, s.PollOnce(context.Background()))
		require.Empty(t, rec.popUps())
	})

	t.Run("Unhandled event", func(t *testing.T) {
		s, _, _ := newTestService(t)
		require.NoError(t, s.Apply(events.Unknown{Type: "foo"}))
	})
}

func TestService_Session(t *testing.T) {
	t.Run("Login starts poller once", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		s.userID, s.loggedIn = 0, false
		backend.On("Unlock", mock.Anything, "secret").Return(nil)
		backend.On("GetUserID", mock.Anything).Return(uint64(ourID), nil)
		backend.On("GetUsername", mock.Anything).Return("me", nil)
		backend.On("GetChats", mock.Anything).Return([]models.Chat{remoteChat(1, true, 1)}, nil)

		require.NoError(t, s.Login(context.Background(), "secret"))
		require.True(t, s.LoggedIn())
		require.Equal(t, uint64(ourID), s.UserID())
		require.Equal(t, "me", s.Username())
		require.True(t, s.PollerRunning())
		require.Len(t, s.Chats(), 1)

		require.NoError(t, s.Login(context.Background(), "secret"))
		require.True(t, s.PollerRunning())
		require.False(t, s.poller.Start(context.Background()))

		s.Logout()
		require.False(t, s.PollerRunning())
		require.False(t, s.LoggedIn())
		require.Empty(t, s.Chats())
		require.Equal(t, 1, rec.sessionsEnded())
		_, active := s.ActiveChat()
		require.False(t, active)
	})

	t.Run("Login failure", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		s.loggedIn = false
		backend.On("Unlock", mock.Anything, "wrong").Return(errors.New("bad password"))

		require.Error(t, s.Login(context.Background(), "wrong"))
		require.False(t, s.PollerRunning())
		require.Len(t, rec.popUps(), 1)

		require.ErrorIs(t, s.Login(context.Background(), ""), ErrEmptyPassword)
	})

	t.Run("SignUp validation", func(t *testing.T) {
		s, backend, rec := newTestService(t)

		require.ErrorIs(t, s.SignUp(context.Background(), "me", "", ""), ErrEmptyPassword)
		require.ErrorIs(t, s.SignUp(context.Background(), "me", "a", "b"), ErrPasswordMismatch)
		require.ErrorIs(t, s.SignUp(context.Background(), "bad name!", "a", "a"), ErrInvalidUsername)
		require.Len(t, rec.popUps(), 3)
		backend.AssertNotCalled(t, "SignUp", mock.Anything, mock.Anything)
	})

	t.Run("SignUp", func(t *testing.T) {
		s, backend, _ := newTestService(t)
		s.userID, s.loggedIn = 0, false
		backend.On("SignUp", mock.Anything, "secret").Return(nil).Once()
		backend.On("Unlock", mock.Anything, "secret").Return(nil).Once()
		backend.On("SetUsernameConfig", mock.Anything, "me", true).Return(nil).Once()
		backend.On("GetUserID", mock.Anything).Return(uint64(ourID), nil)
		backend.On("GetUsername", mock.Anything).Return("me", nil)
		backend.On("GetChats", mock.Anything).Return([]models.Chat{}, nil)

		require.NoError(t, s.SignUp(context.Background(), "me", "secret", "secret"))
		require.True(t, s.LoggedIn())
		require.True(t, s.PollerRunning())
		backend.AssertExpectations(t)
	})

	t.Run("Resume", func(t *testing.T) {
		s, backend, _ := newTestService(t)
		s.userID, s.loggedIn = 0, false
		backend.On("IsUnlocked", mock.Anything).Return(true, nil).Once()
		backend.On("GetUserID", mock.Anything).Return(uint64(ourID), nil)
		backend.On("GetUsername", mock.Anything).Return("me", nil)

		resumed, err := s.Resume(context.Background())
		require.NoError(t, err)
		require.True(t, resumed)
		require.True(t, s.PollerRunning())
	})

	t.Run("Resume locked", func(t *testing.T) {
		s, backend, _ := newTestService(t)
		backend.On("IsUnlocked", mock.Anything).Return(false, nil).Once()

		resumed, err := s.Resume(context.Background())
		require.NoError(t, err)
		require.False(t, resumed)
		require.False(t, s.PollerRunning())
	})
}

type fakeVault struct {
	password string
	chats    []*chat.Chat
	sealed   bool
}

func (v *fakeVault) Unseal(password string) error {
	v.password = password
	v.sealed = false
	return nil
}

func (v *fakeVault) Load() ([]*chat.Chat, error) {
	if v.sealed {
		return nil, errors.New("sealed")
	}
	return v.chats, nil
}

func (v *fakeVault) Seal() { v.sealed = true }

func TestService_Restore(t *testing.T) {
	backend := &mocks.BackendMock{}
	vault := &fakeVault{chats: []*chat.Chat{
		chat.New(chat.Config{ID: 1, Title: "saved", Accepted: true}),
		chat.New(chat.Config{ID: 2, Title: "saved too"}),
	}}
	s := New(context.Background(), Config{Backend: backend, Vault: vault, PollInterval: time.Hour})
	t.Cleanup(s.Close)

	_, err := s.Restore()
	require.ErrorIs(t, err, ErrNotLoggedIn)

	backend.On("Unlock", mock.Anything, "secret").Return(nil)
	backend.On("GetUserID", mock.Anything).Return(uint64(ourID), nil)
	backend.On("GetUsername", mock.Anything).Return("me", nil)
	backend.On("GetChats", mock.Anything).Return(nil, errors.New("backend busy"))

	require.NoError(t, s.Login(context.Background(), "secret"))
	require.Equal(t, "secret", vault.password)
	require.Len(t, s.Chats(), 2)
	c, _ := s.Chat(1)
	require.Equal(t, "saved", c.Title())

	s.Logout()
	require.True(t, vault.sealed)
	require.Empty(t, s.Chats())
}

func TestService_Subscribe(t *testing.T) {
	s, _, rec := newTestService(t)
	other := &recorder{}
	unsubscribe := s.Subscribe(other)

	s.ReconcileIncomingChat(remoteChat(1, false, 0))
	require.Equal(t, 1, rec.chatsCalls())
	require.Equal(t, 1, other.chatsCalls())

	unsubscribe()
	s.ReconcileIncomingChat(remoteChat(2, false, 0))
	require.Equal(t, 2, rec.chatsCalls())
	require.Equal(t, 1, other.chatsCalls())

	s.Subscribe(NopListener{})
	s.ReconcileIncomingChat(remoteChat(3, false, 0))
	require.Equal(t, 3, rec.chatsCalls())
}

func TestService_ActiveChatDelivery(t *testing.T) {
	s, _, rec := newTestService(t)
	seed(t, s, rec, remoteChat(1, true, 1))

	var sunk []chat.Message
	s.SetActiveChat(1, func(msg chat.Message) { sunk = append(sunk, msg) })

	require.NoError(t, s.ReconcileIncomingMessage(1, models.Message{MessageID: 50, ChatID: 1, SenderID: 2, Content: "live"}))
	require.Len(t, sunk, 1)
	require.Empty(t, rec.storedMessages())

	delivered := rec.deliveredMessages()
	require.Len(t, delivered, 1)
	require.Equal(t, uint64(50), delivered[0].ID)
	require.Equal(t, "live", delivered[0].Text)
}

func TestService_SendWhileClosing(t *testing.T) {
	t.Run("Closed service refuses sends", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		seed(t, s, rec, remoteChat(1, true, 0))

		s.Close()
		require.ErrorIs(t, s.Send(context.Background(), 1, "late"), ErrSessionClosing)
		require.Len(t, rec.popUps(), 1)
		backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Sends work again after logout", func(t *testing.T) {
		s, backend, rec := newTestService(t)
		s.Logout()

		seed(t, s, rec, remoteChat(1, true, 0))
		backend.On("SendMessage", mock.Anything, uint64(1), "again").
			Return(models.Message{MessageID: 9, ChatID: 1, SenderID: ourID, Content: "again"}, nil)

		require.NoError(t, s.Send(context.Background(), 1, "again"))
		s.Close()
		backend.AssertCalled(t, "SendMessage", mock.Anything, uint64(1), "again")
	})
}
