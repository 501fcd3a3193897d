package messenger

import (
	"context"
	"fmt"
	"log/slog"

	"sigilix/internal/events"
	"sigilix/internal/metrics"
)

// PollOnce pulls pending notifications and applies them. A notification that
// cannot be decoded or applied is logged and skipped; only a failed pull is
// returned.
func (s *Service) PollOnce(ctx context.Context) error {
	notifications, err := s.backend.PullNotificationsAndUpdateData(ctx)
	if err != nil {
		return fmt.Errorf("failed to pull notifications: %w", err)
	}

	for _, n := range notifications {
		metrics.ObserveNotification(n.Type)
		ev, err := events.Decode(n)
		if err != nil {
			slog.Warn("Dropping notification", "type", n.Type, "error", err)
			continue
		}
		if err := s.Apply(ev); err != nil {
			slog.Warn("Notification not applied", "type", n.Type, "error", err)
		}
	}
	return nil
}

// Apply folds one event into the cache.
func (s *Service) Apply(ev events.Event) error {
	switch e := ev.(type) {
	case events.IncomingChat:
		s.ReconcileIncomingChat(e.Chat)
	case events.NewMessage:
		return s.ReconcileIncomingMessage(e.ChatID, e.Message)
	case events.ChatAccepted:
		s.ReconcileChatAccepted(e.Chat)
	case events.Unknown:
		slog.Warn("Unknown notification type", "type", e.Type)
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
	return nil
}
