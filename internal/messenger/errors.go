package messenger

import (
	"errors"
	"fmt"

	"sigilix/internal/models"
)

var (
	ErrChatNotFound     = fmt.Errorf("chat %w", models.ErrNotFound)
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrEmptyTitle       = errors.New("chat title is empty")
	ErrAlreadyAccepted  = errors.New("chat already accepted")
	ErrNotReceiver      = errors.New("only receiver can accept chat")
	ErrEmptyPassword    = errors.New("password is empty")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrSessionClosing   = errors.New("session is closing")
)

func chatNotFound(chatID uint64) error {
	return fmt.Errorf("%w: %d", ErrChatNotFound, chatID)
}
