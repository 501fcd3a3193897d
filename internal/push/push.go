// Package push sends Web Push notifications to subscribed views when
// something arrives while they are not looking.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/c-pro/geche"

	"sigilix/internal/chat"
	"sigilix/internal/messenger"
)

const (
	queueSize     = 64
	ttlSeconds    = 60
	previewLength = 40
)

var (
	ErrDisabled     = errors.New("push notifications are not configured")
	ErrInvalidInput = errors.New("subscription endpoint and keys are required")
)

type Config struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is a mailto: or https: contact sent to push services.
	Subscriber string
}

func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// Payload is the JSON body delivered to the service worker.
type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	ChatID uint64 `json:"chatId"`
}

type sender func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type Notifier struct {
	messenger.NopListener

	config        Config
	subscriptions geche.Geche[string, webpush.Subscription]
	queue         chan Payload
	send          sender

	mu     sync.Mutex
	known  map[uint64]struct{}
	seeded bool
}

func NewNotifier(config Config) *Notifier {
	return &Notifier{
		config:        config,
		subscriptions: geche.NewMapCache[string, webpush.Subscription](),
		queue:         make(chan Payload, queueSize),
		send:          webpush.SendNotificationWithContext,
		known:         make(map[uint64]struct{}),
	}
}

func (n *Notifier) PublicKey() string {
	return n.config.PublicKey
}

// Subscribe registers a browser push subscription. Registering the same
// endpoint again replaces its keys.
func (n *Notifier) Subscribe(sub webpush.Subscription) error {
	if !n.config.Enabled() {
		return ErrDisabled
	}
	if sub.Endpoint == "" || sub.Keys.Auth == "" || sub.Keys.P256dh == "" {
		return ErrInvalidInput
	}
	n.subscriptions.Set(sub.Endpoint, sub)
	return nil
}

func (n *Notifier) Subscriptions() int {
	return n.subscriptions.Len()
}

// ChatsChanged notifies about chats requested by other users. The first
// list after start only records what already exists.
func (n *Notifier) ChatsChanged(chats []*chat.Chat) {
	n.mu.Lock()
	var fresh []*chat.Chat
	current := make(map[uint64]struct{}, len(chats))
	for _, c := range chats {
		current[c.ID] = struct{}{}
		if _, ok := n.known[c.ID]; !ok && n.seeded && !c.IsCreator() && !c.Accepted() {
			fresh = append(fresh, c)
		}
	}
	n.known = current
	n.seeded = true
	n.mu.Unlock()

	for _, c := range fresh {
		n.enqueue(Payload{
			Title:  "New chat request",
			Body:   c.Title(),
			ChatID: c.ID,
		})
	}
}

// SessionEnded forgets the known chats so the list loaded by the next login
// seeds them again instead of announcing each as new.
func (n *Notifier) SessionEnded() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.known = make(map[uint64]struct{})
	n.seeded = false
}

func (n *Notifier) MessageStored(c *chat.Chat, msg chat.Message) {
	if msg.SentByUs {
		return
	}
	n.enqueue(Payload{
		Title:  c.Title(),
		Body:   c.LastMessagePreview(previewLength),
		ChatID: c.ID,
	})
}

func (n *Notifier) enqueue(p Payload) {
	if !n.config.Enabled() || n.subscriptions.Len() == 0 {
		return
	}
	select {
	case n.queue <- p:
	default:
		slog.Warn("Push queue full, notification dropped", "chat_id", p.ChatID)
	}
}

// Run delivers queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-n.queue:
			n.deliver(ctx, p)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, p Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		slog.Error("Failed to encode push payload", "error", err)
		return
	}

	for endpoint, sub := range n.subscriptions.Snapshot() {
		if err := n.sendOne(ctx, body, sub); err != nil {
			slog.Warn("Push delivery failed", "endpoint", endpoint, "error", err)
		}
	}
}

func (n *Notifier) sendOne(ctx context.Context, body []byte, sub webpush.Subscription) error {
	resp, err := n.send(ctx, body, &sub, &webpush.Options{
		Subscriber:      n.config.Subscriber,
		VAPIDPublicKey:  n.config.PublicKey,
		VAPIDPrivateKey: n.config.PrivateKey,
		TTL:             ttlSeconds,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// the browser dropped the subscription
		_ = n.subscriptions.Del(sub.Endpoint)
		slog.Info("Push subscription expired", "endpoint", sub.Endpoint)
		return nil
	case resp.StatusCode > 299:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}
