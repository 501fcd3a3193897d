// Package messenger holds the local chat cache: the in-memory view of every
// chat of the current session, kept in step with the backend through explicit
// calls and the notification poller.
package messenger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/c-pro/geche"

	"sigilix/internal/chat"
	"sigilix/internal/metrics"
	"sigilix/internal/models"
	"sigilix/internal/poller"
)

// Backend is the remote procedure surface of the messenger backend.
type Backend interface {
	GetState(ctx context.Context) (string, error)
	IsUnlocked(ctx context.Context) (bool, error)
	GetUserID(ctx context.Context) (uint64, error)
	GetUsername(ctx context.Context) (string, error)
	SignUp(ctx context.Context, password string) error
	Unlock(ctx context.Context, password string) error
	SetUsernameConfig(ctx context.Context, username string, visible bool) error
	GetChats(ctx context.Context) ([]models.Chat, error)
	SendMessage(ctx context.Context, chatID uint64, text string) (models.Message, error)
	TryRequestChat(ctx context.Context, usernameOrID string) (models.Chat, error)
	InitChatFromInitializer(ctx context.Context, userID uint64) (models.Chat, error)
	InitChatFromReceiver(ctx context.Context, chatID uint64) error
	DeleteChat(ctx context.Context, chatID uint64) error
	RenameChat(ctx context.Context, chatID uint64, title string) error
	PullNotificationsAndUpdateData(ctx context.Context) ([]models.Notification, error)
}

// Vault keeps a copy of the cache between runs. It is opened with the
// unlock password.
type Vault interface {
	Unseal(password string) error
	Load() ([]*chat.Chat, error)
	Seal()
}

type nopVault struct{}

func (nopVault) Unseal(string) error         { return nil }
func (nopVault) Load() ([]*chat.Chat, error) { return nil, nil }
func (nopVault) Seal()                       {}

type Config struct {
	Backend      Backend
	Vault        Vault
	PollInterval time.Duration
}

// cacheTx is the part of a geche locker transaction the cache uses.
type cacheTx interface {
	Get(key uint64) (*chat.Chat, error)
	Set(key uint64, value *chat.Chat)
	Del(key uint64) error
	Snapshot() map[uint64]*chat.Chat
}

type Service struct {
	ctx     context.Context
	backend Backend
	vault   Vault
	poller  *poller.Poller

	chats    *geche.Locker[uint64, *chat.Chat]
	deleting *geche.Locker[uint64, struct{}]

	// publishMu orders cache mutations with the notifications they cause.
	publishMu sync.Mutex

	listenersMu    sync.RWMutex
	listeners      map[int]Listener
	nextListenerID int

	activeMu   sync.Mutex
	activeID   uint64
	activeSet  bool
	activeSink MessageSink

	sessionMu sync.RWMutex
	userID    uint64
	username  string
	loggedIn  bool

	// sendMu orders wg.Go in Send with the wg.Wait in Logout and Close.
	sendMu  sync.Mutex
	closing bool
	closed  bool
	wg      sync.WaitGroup
}

// New builds the service. ctx bounds the notification poller.
func New(ctx context.Context, config Config) *Service {
	vault := config.Vault
	if vault == nil {
		vault = nopVault{}
	}
	s := &Service{
		ctx:        ctx,
		backend:    config.Backend,
		vault:      vault,
		chats:      geche.NewLocker[uint64, *chat.Chat](geche.NewMapCache[uint64, *chat.Chat]()),
		deleting:   geche.NewLocker[uint64, struct{}](geche.NewMapCache[uint64, struct{}]()),
		listeners:  make(map[int]Listener),
		activeSink: nopSink,
	}
	s.poller = poller.New(poller.Config{
		Name:     "notifications",
		Interval: config.PollInterval,
		Tick:     s.PollOnce,
		OnResult: metrics.ObservePollTick,
	})
	return s
}

// Close stops the poller and waits for in-flight sends.
func (s *Service) Close() {
	s.poller.Stop()
	s.sendMu.Lock()
	s.closed = true
	s.sendMu.Unlock()
	s.wg.Wait()
}

// Chat returns the cached chat with the given id.
func (s *Service) Chat(chatID uint64) (*chat.Chat, bool) {
	tx := s.chats.RLock()
	defer tx.Unlock()
	c, err := tx.Get(chatID)
	if err != nil {
		return nil, false
	}
	return c, true
}

// Chats returns every cached chat sorted by id.
func (s *Service) Chats() []*chat.Chat {
	tx := s.chats.RLock()
	defer tx.Unlock()
	return sortedChats(tx.Snapshot())
}

func (s *Service) UserID() uint64 {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.userID
}

func (s *Service) Username() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.username
}

func (s *Service) LoggedIn() bool {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.loggedIn
}

// PollerRunning reports whether the notification poller is running.
func (s *Service) PollerRunning() bool {
	return s.poller.Running()
}

// mutate runs fn inside one cache transaction. When fn reports a change the
// resulting chat list goes to every listener before the next mutation starts.
func (s *Service) mutate(fn func(tx cacheTx) bool) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	tx := s.chats.Lock()
	changed := fn(tx)
	var list []*chat.Chat
	if changed {
		list = sortedChats(tx.Snapshot())
	}
	tx.Unlock()

	if !changed {
		return
	}
	metrics.SetCachedChats(len(list))
	s.eachListener(func(l Listener) { l.ChatsChanged(list) })
}

// upsert inserts c or merges it into the chat already cached under its id.
func upsert(tx cacheTx, c *chat.Chat) *chat.Chat {
	existing, err := tx.Get(c.ID)
	if err != nil {
		tx.Set(c.ID, c)
		return c
	}
	existing.Merge(c)
	return existing
}

func sortedChats(m map[uint64]*chat.Chat) []*chat.Chat {
	list := make([]*chat.Chat, 0, len(m))
	for _, c := range m {
		list = append(list, c)
	}
	slices.SortFunc(list, func(a, b *chat.Chat) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return list
}

func (s *Service) toMessage(m models.Message) chat.Message {
	return chat.Message{
		ID:       m.MessageID,
		ChatID:   m.ChatID,
		SentByUs: m.SenderID == s.UserID(),
		Text:     m.Content,
	}
}

func (s *Service) toChat(m models.Chat) *chat.Chat {
	messages := make([]chat.Message, 0, len(m.Messages))
	for _, msg := range m.Messages {
		if msg.ChatID == 0 {
			msg.ChatID = m.ChatID
		}
		messages = append(messages, s.toMessage(msg))
	}
	return chat.New(chat.Config{
		ID:          m.ChatID,
		Title:       m.Title,
		IsCreator:   m.AmIInitiator,
		Accepted:    m.Accepted,
		OtherUserID: m.OtherUserID,
		Messages:    messages,
	})
}
