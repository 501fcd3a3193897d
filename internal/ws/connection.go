package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"sigilix/internal/chat"
	"sigilix/internal/messenger"
	"sigilix/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join() (string, chan models.ServerMessage)
	Leave(id string)
	Send(id string, msg models.ServerMessage)
}

// chatService is the part of messenger.Service a view drives.
type chatService interface {
	Chat(chatID uint64) (*chat.Chat, bool)
	Chats() []*chat.Chat
	SetActiveChat(chatID uint64, sink messenger.MessageSink)
	ClearActiveChat()
	ActiveChat() (uint64, bool)
	LoadAll(ctx context.Context) error
	Send(ctx context.Context, chatID uint64, text string) error
	Accept(ctx context.Context, chatID uint64) error
	RequestChat(ctx context.Context, usernameOrID string) (*chat.Chat, error)
	CreateChat(ctx context.Context, userID uint64) (*chat.Chat, error)
	Rename(ctx context.Context, chatID uint64, title string) error
	Delete(ctx context.Context, chatID uint64) error
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	service    chatService
	id         string
	fromClient chan models.ClientMessage
	fromServer chan models.ServerMessage
	errorCh    chan error

	// chat this view opened, 0 when none
	openChat uint64
}

func NewConnection(
	hub messageHub,
	service chatService,
	ws wsConnection,
) *Connection {
	id, fromServer := hub.Join()
	return &Connection{
		ws:         ws,
		hub:        hub,
		service:    service,
		id:         id,
		fromClient: make(chan models.ClientMessage),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.closeChat()
		c.hub.Leave(c.id)
	}()

	// the view starts with the current chat list
	c.hub.Send(c.id, models.ServerMessage{
		Type:  models.ServerMessageTypeChats,
		Chats: ViewChats(c.service.Chats()),
	})

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(ctx, msg); err != nil {
				return err
			}
		case msg := <-c.fromServer:
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientMessage runs one view request. Failed operations are already
// reported to every view as popups, so they do not end the connection.
func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) error {
	var err error
	switch msg.Type {
	case models.ClientMessageTypeOpenChat:
		err = c.open(msg.ChatID)
	case models.ClientMessageTypeCloseChat:
		c.closeChat()
	case models.ClientMessageTypeSend:
		err = c.service.Send(ctx, msg.ChatID, msg.Text)
	case models.ClientMessageTypeAccept:
		err = c.service.Accept(ctx, msg.ChatID)
	case models.ClientMessageTypeRequestChat:
		err = c.requestChat(ctx, msg.Target)
	case models.ClientMessageTypeRename:
		err = c.service.Rename(ctx, msg.ChatID, msg.Text)
	case models.ClientMessageTypeDelete:
		if msg.ChatID == c.openChat {
			c.closeChat()
		}
		err = c.service.Delete(ctx, msg.ChatID)
	case models.ClientMessageTypeRefresh:
		if err = c.service.LoadAll(ctx); err != nil {
			c.popUp(err)
		}
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
		c.popUp(err)
	}

	if err != nil {
		slog.Debug("View request failed", "view", c.id, "type", msg.Type, "error", err)
	}
	return nil
}

// requestChat treats a numeric target as a user id, anything else as a
// username.
func (c *Connection) requestChat(ctx context.Context, target string) error {
	if userID, err := strconv.ParseUint(target, 10, 64); err == nil {
		_, err = c.service.CreateChat(ctx, userID)
		return err
	}
	_, err := c.service.RequestChat(ctx, target)
	return err
}

func (c *Connection) open(chatID uint64) error {
	opened, ok := c.service.Chat(chatID)
	if !ok {
		err := fmt.Errorf("%w: %d", messenger.ErrChatNotFound, chatID)
		c.popUp(err)
		return err
	}

	c.openChat = chatID
	c.hub.Send(c.id, models.ServerMessage{
		Type:   models.ServerMessageTypeOpened,
		ChatID: chatID,
		Chats:  []models.ViewChat{ViewChat(opened)},
	})

	// The open dialog keeps its own chat object current, so messages for it
	// bypass the background cache path.
	c.service.SetActiveChat(chatID, func(msg chat.Message) {
		opened.AddMessage(msg)
		view := ViewMessage(msg)
		c.hub.Send(c.id, models.ServerMessage{
			Type:    models.ServerMessageTypeMessage,
			ChatID:  chatID,
			Message: &view,
		})
	})
	return nil
}

func (c *Connection) closeChat() {
	if c.openChat == 0 {
		return
	}
	if active, ok := c.service.ActiveChat(); ok && active == c.openChat {
		c.service.ClearActiveChat()
	}
	c.openChat = 0
}

// popUp reports an error to this view only.
func (c *Connection) popUp(err error) {
	c.hub.Send(c.id, popUpMessage(messenger.PopUp{
		Message:  err.Error(),
		Action:   messenger.ActionClose,
		Severity: messenger.SeverityDanger,
	}))
}
