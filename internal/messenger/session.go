package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sigilix/internal/content"
)

// SignUp creates the local account, unlocks it and starts the session.
// username is optional.
func (s *Service) SignUp(ctx context.Context, username, password, confirm string) error {
	if password == "" {
		return s.popUp(ErrEmptyPassword)
	}
	if password != confirm {
		return s.popUp(ErrPasswordMismatch)
	}
	if username != "" {
		if err := content.ValidateUsername(username); err != nil {
			return s.popUp(fmt.Errorf("%w: %w", ErrInvalidUsername, err))
		}
	}

	if err := s.backend.SignUp(ctx, password); err != nil {
		return s.popUp(fmt.Errorf("failed to sign up: %w", err))
	}
	if err := s.backend.Unlock(ctx, password); err != nil {
		return s.popUp(fmt.Errorf("failed to unlock: %w", err))
	}
	if username != "" {
		if err := s.backend.SetUsernameConfig(ctx, username, true); err != nil {
			return s.popUp(fmt.Errorf("failed to set username: %w", err))
		}
	}
	return s.startSession(ctx, password)
}

// Login unlocks an existing account and starts the session.
func (s *Service) Login(ctx context.Context, password string) error {
	if password == "" {
		return s.popUp(ErrEmptyPassword)
	}
	if err := s.backend.Unlock(ctx, password); err != nil {
		return s.popUp(fmt.Errorf("failed to unlock: %w", err))
	}
	return s.startSession(ctx, password)
}

func (s *Service) startSession(ctx context.Context, password string) error {
	if err := s.loadIdentity(ctx); err != nil {
		return s.popUp(err)
	}
	if err := s.vault.Unseal(password); err != nil {
		// the session works without a snapshot
		slog.Error("Failed to open snapshot", "error", err)
	}
	if err := s.LoadAll(ctx); err != nil {
		slog.Error("Failed to load chats after login", "error", err)
		if n, err := s.Restore(); err != nil {
			slog.Warn("Snapshot not restored", "error", err)
		} else {
			slog.Info("Chats restored from snapshot", "count", n)
		}
	}
	s.poller.Start(s.ctx)
	slog.Info("Session started", "user_id", s.UserID(), "username", s.Username())
	return nil
}

func (s *Service) loadIdentity(ctx context.Context) error {
	userID, err := s.backend.GetUserID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	username, err := s.backend.GetUsername(ctx)
	if err != nil {
		return fmt.Errorf("failed to get username: %w", err)
	}

	s.sessionMu.Lock()
	s.userID = userID
	s.username = username
	s.loggedIn = true
	s.sessionMu.Unlock()
	return nil
}

// Resume picks up a session that the backend already has unlocked, as
// happens when the daemon restarts while the backend keeps running. It
// reports whether a session was resumed.
func (s *Service) Resume(ctx context.Context) (bool, error) {
	unlocked, err := s.backend.IsUnlocked(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check backend lock: %w", err)
	}
	if !unlocked {
		return false, nil
	}
	if err := s.loadIdentity(ctx); err != nil {
		return false, err
	}
	s.poller.Start(s.ctx)
	return true, nil
}

// Logout stops the poller and forgets everything cached for the session.
func (s *Service) Logout() {
	s.poller.Stop()
	s.sendMu.Lock()
	s.closing = true
	s.sendMu.Unlock()
	s.wg.Wait()
	s.ClearActiveChat()
	// sealed first so the emptied cache never reaches the snapshot
	s.vault.Seal()

	s.mutate(func(tx cacheTx) bool {
		for id := range tx.Snapshot() {
			_ = tx.Del(id)
		}
		return true
	})

	s.sessionMu.Lock()
	s.userID = 0
	s.username = ""
	s.loggedIn = false
	s.sessionMu.Unlock()

	s.sendMu.Lock()
	s.closing = false
	s.sendMu.Unlock()

	s.eachListener(func(l Listener) { l.SessionEnded() })
}

// State returns the view the backend expects: signup, login or messenger.
func (s *Service) State(ctx context.Context) (string, error) {
	state, err := s.backend.GetState(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}
	return state, nil
}

// Restore seeds the cache from the local snapshot. Session start calls it
// when the backend cannot serve the chat list; chats already cached win.
func (s *Service) Restore() (int, error) {
	if !s.LoggedIn() {
		return 0, ErrNotLoggedIn
	}
	chats, err := s.vault.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to restore snapshot: %w", err)
	}
	if len(chats) == 0 {
		return 0, errors.New("snapshot is empty")
	}

	restored := 0
	s.mutate(func(tx cacheTx) bool {
		for _, c := range chats {
			if _, err := tx.Get(c.ID); err == nil {
				continue
			}
			tx.Set(c.ID, c)
			restored++
		}
		return restored > 0
	})
	return restored, nil
}
