package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"sigilix/internal/chat"
	"sigilix/internal/messenger"
	"sigilix/internal/models"
)

type adminService interface {
	RequestChat(ctx context.Context, usernameOrID string) (*chat.Chat, error)
	CreateChat(ctx context.Context, userID uint64) (*chat.Chat, error)
	Chats() []*chat.Chat
	LoggedIn() bool
	PollerRunning() bool
	UserID() uint64
}

type viewCounter interface {
	Connected() int
}

type AdminHandler struct {
	service adminService
	views   viewCounter
}

func NewAdminHandler(service adminService, views viewCounter) *AdminHandler {
	return &AdminHandler{service: service, views: views}
}

type RequestChatRequest struct {
	Target string `json:"target"`
}

type RequestChatResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ChatID  uint64 `json:"chatId,omitempty"`
	Title   string `json:"title,omitempty"`
}

type AdminStateResponse struct {
	LoggedIn      bool   `json:"loggedIn"`
	UserID        uint64 `json:"userId,omitempty"`
	PollerRunning bool   `json:"pollerRunning"`
	Chats         int    `json:"chats"`
	Views         int    `json:"views"`
}

// RequestChatHandler opens a chat with a user given by username or numeric
// user id.
func (h *AdminHandler) RequestChatHandler(w http.ResponseWriter, r *http.Request) {
	var req RequestChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		http.Error(w, "Target is required", http.StatusBadRequest)
		return
	}

	if !h.service.LoggedIn() {
		writeJSON(w, http.StatusConflict, RequestChatResponse{
			Success: false,
			Message: messenger.ErrNotLoggedIn.Error(),
		})
		return
	}

	var (
		c   *chat.Chat
		err error
	)
	if userID, perr := strconv.ParseUint(target, 10, 64); perr == nil {
		c, err = h.service.CreateChat(r.Context(), userID)
	} else {
		c, err = h.service.RequestChat(r.Context(), target)
	}
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, messenger.ErrInvalidUsername) || errors.Is(err, models.ErrNotFound) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, RequestChatResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to request chat: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, RequestChatResponse{
		Success: true,
		ChatID:  c.ID,
		Title:   c.Title(),
	})
}

func (h *AdminHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	resp := AdminStateResponse{
		LoggedIn:      h.service.LoggedIn(),
		PollerRunning: h.service.PollerRunning(),
		Chats:         len(h.service.Chats()),
		Views:         h.views.Connected(),
	}
	if resp.LoggedIn {
		resp.UserID = h.service.UserID()
	}
	writeJSON(w, http.StatusOK, resp)
}
