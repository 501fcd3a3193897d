package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"sigilix/internal/models"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) GetState(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *BackendMock) IsUnlocked(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *BackendMock) GetUserID(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	var id uint64
	if val := args.Get(0); val != nil {
		id = val.(uint64)
	}
	return id, args.Error(1)
}

func (m *BackendMock) GetUsername(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *BackendMock) SignUp(ctx context.Context, password string) error {
	args := m.Called(ctx, password)
	return args.Error(0)
}

func (m *BackendMock) Unlock(ctx context.Context, password string) error {
	args := m.Called(ctx, password)
	return args.Error(0)
}

func (m *BackendMock) SetUsernameConfig(ctx context.Context, username string, visible bool) error {
	args := m.Called(ctx, username, visible)
	return args.Error(0)
}

func (m *BackendMock) GetChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

func (m *BackendMock) SendMessage(ctx context.Context, chatID uint64, text string) (models.Message, error) {
	args := m.Called(ctx, chatID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) TryRequestChat(ctx context.Context, usernameOrID string) (models.Chat, error) {
	args := m.Called(ctx, usernameOrID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *BackendMock) InitChatFromInitializer(ctx context.Context, userID uint64) (models.Chat, error) {
	args := m.Called(ctx, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *BackendMock) InitChatFromReceiver(ctx context.Context, chatID uint64) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *BackendMock) DeleteChat(ctx context.Context, chatID uint64) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *BackendMock) RenameChat(ctx context.Context, chatID uint64, title string) error {
	args := m.Called(ctx, chatID, title)
	return args.Error(0)
}

func (m *BackendMock) PullNotificationsAndUpdateData(ctx context.Context) ([]models.Notification, error) {
	args := m.Called(ctx)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}
