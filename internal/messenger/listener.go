package messenger

import (
	"slices"

	"sigilix/internal/chat"
)

const (
	SeverityDanger = "danger"
	ActionClose    = "Close"
)

// PopUp is a user-visible notice about a failed operation.
type PopUp struct {
	Message  string
	Action   string
	Severity string
}

// Listener receives cache changes. Calls are made synchronously and in
// mutation order, so implementations must not block and must not call
// mutating Service methods from inside a callback.
type Listener interface {
	// ChatsChanged gets the full chat list, sorted by id, after any
	// structural change.
	ChatsChanged(chats []*chat.Chat)
	// MessageStored is called when a message is appended to a chat that is
	// not open in the view.
	MessageStored(c *chat.Chat, msg chat.Message)
	// MessageDelivered is called after a message went to the active chat
	// sink instead of the cache listeners.
	MessageDelivered(c *chat.Chat, msg chat.Message)
	PopUp(p PopUp)
	// SessionEnded is called once Logout has emptied the cache.
	SessionEnded()
}

// NopListener implements Listener with no-ops. Embed it to handle only some
// of the callbacks.
type NopListener struct{}

func (NopListener) ChatsChanged([]*chat.Chat)                {}
func (NopListener) MessageStored(*chat.Chat, chat.Message)    {}
func (NopListener) MessageDelivered(*chat.Chat, chat.Message) {}
func (NopListener) PopUp(PopUp)                               {}
func (NopListener) SessionEnded()                             {}

// MessageSink receives messages for the chat open in the view.
type MessageSink func(msg chat.Message)

func nopSink(chat.Message) {}

// Subscribe registers l and returns a function that removes it.
func (s *Service) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Service) eachListener(fn func(l Listener)) {
	s.listenersMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}

// SetActiveChat marks chatID as open in the view. Messages for it go to sink
// and are not stored in the cache.
func (s *Service) SetActiveChat(chatID uint64, sink MessageSink) {
	if sink == nil {
		sink = nopSink
	}
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.activeID = chatID
	s.activeSet = true
	s.activeSink = sink
}

func (s *Service) ClearActiveChat() {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.activeID = 0
	s.activeSet = false
	s.activeSink = nopSink
}

// ActiveChat returns the open chat id, if any.
func (s *Service) ActiveChat() (uint64, bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.activeID, s.activeSet
}

func (s *Service) popUp(err error) error {
	p := PopUp{Message: err.Error(), Action: ActionClose, Severity: SeverityDanger}
	s.eachListener(func(l Listener) { l.PopUp(p) })
	return err
}
