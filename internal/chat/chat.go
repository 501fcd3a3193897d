package chat

import (
	"sync"
)

// Message is a single chat line. SentByUs is fixed when the message is
// built and never recomputed.
type Message struct {
	ID       uint64
	ChatID   uint64
	SentByUs bool
	Text     string
}

type Chat struct {
	ID uint64

	otherUserID uint64
	isCreator   bool
	title       string
	accepted    bool
	messages    []Message

	mux sync.RWMutex
}

type Config struct {
	ID          uint64
	Title       string
	IsCreator   bool
	Accepted    bool
	OtherUserID uint64
	Messages    []Message
}

func New(config Config) *Chat {
	messages := make([]Message, len(config.Messages))
	copy(messages, config.Messages)
	return &Chat{
		ID:          config.ID,
		otherUserID: config.OtherUserID,
		isCreator:   config.IsCreator,
		title:       config.Title,
		accepted:    config.Accepted,
		messages:    messages,
	}
}

// AddMessage appends a message to the end of the chat.
func (c *Chat) AddMessage(msg Message) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the messages in arrival order.
func (c *Chat) Messages() []Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	result := make([]Message, len(c.messages))
	copy(result, c.messages)
	return result
}

func (c *Chat) MessageCount() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return len(c.messages)
}

func (c *Chat) LastMessage() (Message, bool) {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// LastMessagePreview returns the last message text cut to trimLength runes,
// with "..." appended when it was cut.
func (c *Chat) LastMessagePreview(trimLength int) string {
	last, ok := c.LastMessage()
	if !ok {
		return ""
	}
	runes := []rune(last.Text)
	if len(runes) <= trimLength {
		return last.Text
	}
	return string(runes[:trimLength]) + "..."
}

func (c *Chat) Title() string {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.title
}

func (c *Chat) SetTitle(title string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.title = title
}

func (c *Chat) IsCreator() bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.isCreator
}

func (c *Chat) OtherUserID() uint64 {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.otherUserID
}

func (c *Chat) Accepted() bool {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.accepted
}

// Accept marks the chat as accepted. It reports whether the flag changed.
func (c *Chat) Accept() bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.accepted {
		return false
	}
	c.accepted = true
	return true
}

// Merge overwrites the mutable state of c with the state of update while
// keeping c itself, so holders of the pointer observe the new values.
// The accepted flag never goes back from true to false.
func (c *Chat) Merge(update *Chat) {
	if update == c {
		return
	}
	update.mux.RLock()
	title := update.title
	isCreator := update.isCreator
	accepted := update.accepted
	otherUserID := update.otherUserID
	messages := make([]Message, len(update.messages))
	copy(messages, update.messages)
	update.mux.RUnlock()

	c.mux.Lock()
	defer c.mux.Unlock()

	c.title = title
	c.isCreator = isCreator
	c.accepted = c.accepted || accepted
	c.otherUserID = otherUserID
	c.messages = messages
}
