// Package bridge is the client side of the backend RPC surface. Every call is
// a POST of the positional arguments as a JSON array to {base}/{Method}.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sigilix/internal/models"
)

// ErrorResponse is the body of a non-2xx backend reply.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("backend error: %s, code: %v", e.Message, e.Code)
}

// CallObserver is told about every finished call.
type CallObserver func(method string, err error)

type Client struct {
	httpClient *http.Client
	baseURL    string
	observe    CallObserver
}

type Config struct {
	BaseURL string
	// Timeout bounds every call. Zero means no timeout.
	Timeout time.Duration
	Observe CallObserver
}

func New(config Config) *Client {
	observe := config.Observe
	if observe == nil {
		observe = func(string, error) {}
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    strings.TrimRight(config.BaseURL, "/") + "/",
		observe:    observe,
	}
}

func (c *Client) call(ctx context.Context, method string, writeTo any, args ...any) (err error) {
	defer func() { c.observe(method, err) }()

	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%s: failed to encode arguments: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode > 299 {
		var errorResponse ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResponse); err != nil {
			return fmt.Errorf("%s: failed to decode error response: %v. Backend responded with status code %d", method, err, resp.StatusCode)
		}
		if errorResponse.Code == 0 {
			errorResponse.Code = resp.StatusCode
		}
		return &errorResponse
	}

	if writeTo == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(writeTo); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: empty response", method)
		}
		return fmt.Errorf("%s: failed to decode response: %w", method, err)
	}
	return nil
}

func (c *Client) IsSignedUp(ctx context.Context) (bool, error) {
	var ok bool
	err := c.call(ctx, "IsSignedUp", &ok)
	return ok, err
}

func (c *Client) IsUnlocked(ctx context.Context) (bool, error) {
	var ok bool
	err := c.call(ctx, "IsUnlocked", &ok)
	return ok, err
}

func (c *Client) GetState(ctx context.Context) (string, error) {
	var state string
	err := c.call(ctx, "GetState", &state)
	return state, err
}

func (c *Client) GetUserID(ctx context.Context) (uint64, error) {
	var id uint64
	err := c.call(ctx, "GetUserId", &id)
	return id, err
}

func (c *Client) GetUsername(ctx context.Context) (string, error) {
	var name string
	err := c.call(ctx, "GetUsername", &name)
	return name, err
}

func (c *Client) SignUp(ctx context.Context, password string) error {
	return c.call(ctx, "SignUp", nil, password)
}

func (c *Client) Unlock(ctx context.Context, password string) error {
	return c.call(ctx, "Unlock", nil, password)
}

func (c *Client) SetUsernameConfig(ctx context.Context, username string, visible bool) error {
	return c.call(ctx, "SetUsernameConfig", nil, username, visible)
}

func (c *Client) SearchByUsername(ctx context.Context, username string) (uint64, error) {
	var id uint64
	err := c.call(ctx, "SearchByUsername", &id, username)
	return id, err
}

func (c *Client) GetChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.call(ctx, "GetChats", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) GetChat(ctx context.Context, chatID uint64) (models.Chat, error) {
	var chat *models.Chat
	if err := c.call(ctx, "GetChat", &chat, chatID); err != nil {
		return models.Chat{}, err
	}
	if chat == nil {
		return models.Chat{}, fmt.Errorf("chat %d: %w", chatID, models.ErrNotFound)
	}
	return *chat, nil
}

func (c *Client) GetChatMessages(ctx context.Context, chatID uint64) ([]models.Message, error) {
	var messages []models.Message
	if err := c.call(ctx, "GetChatMessages", &messages, chatID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID uint64, text string) (models.Message, error) {
	var msg models.Message
	err := c.call(ctx, "SendMessage", &msg, chatID, text)
	return msg, err
}

func (c *Client) TryRequestChat(ctx context.Context, usernameOrID string) (models.Chat, error) {
	var chat models.Chat
	err := c.call(ctx, "TryRequestChat", &chat, usernameOrID)
	return chat, err
}

func (c *Client) InitChatFromInitializer(ctx context.Context, userID uint64) (models.Chat, error) {
	var chat models.Chat
	err := c.call(ctx, "InitChatFromInitializer", &chat, userID)
	return chat, err
}

func (c *Client) InitChatFromReceiver(ctx context.Context, chatID uint64) error {
	return c.call(ctx, "InitChatFromReceiver", nil, chatID)
}

func (c *Client) DeleteChat(ctx context.Context, chatID uint64) error {
	return c.call(ctx, "DeleteChat", nil, chatID)
}

func (c *Client) RenameChat(ctx context.Context, chatID uint64, title string) error {
	return c.call(ctx, "RenameChat", nil, chatID, title)
}

func (c *Client) PullNotificationsAndUpdateData(ctx context.Context) ([]models.Notification, error) {
	var notifications []models.Notification
	if err := c.call(ctx, "PullNotificationsAndUpdateData", &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}
