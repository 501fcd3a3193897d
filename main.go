package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sigilix/internal/auth"
	"sigilix/internal/bridge"
	"sigilix/internal/commands"
	"sigilix/internal/config"
	"sigilix/internal/http"
	"sigilix/internal/messenger"
	"sigilix/internal/metrics"
	"sigilix/internal/push"
	"sigilix/internal/storage"
	"sigilix/internal/ws"
)

func run(ctx context.Context, requestChat string) error {
	cfg, err := config.Load(requestChat != "")
	if err != nil {
		return err
	}

	if requestChat != "" {
		return commands.RequestChat(requestChat, cfg)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	authConfig := auth.Config{TokenExpiry: cfg.TokenExpiry}
	if cfg.AuthSecret != "" {
		authConfig.Secret = base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret))
	}
	sessions, err := auth.NewSessionService(ctx, authConfig)
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	backend := bridge.New(bridge.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Observe: metrics.ObserveBackendCall,
	})

	service := messenger.New(ctx, messenger.Config{
		Backend:      backend,
		Vault:        bbStorage,
		PollInterval: cfg.PollInterval,
	})

	hub := ws.NewHub()
	snapshotter := storage.NewSnapshotter(bbStorage)
	notifier := push.NewNotifier(push.Config{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subscriber: cfg.VAPIDSubscriber,
	})
	service.Subscribe(hub)
	service.Subscribe(snapshotter)
	service.Subscribe(notifier)

	resumed, err := service.Resume(ctx)
	switch {
	case err != nil:
		slog.Warn("Backend is not reachable, waiting for a view to log in", "error", err)
	case resumed:
		if err := service.LoadAll(ctx); err != nil {
			slog.Error("Failed to load chats", "error", err)
		}
	}

	adminServer := http.NewAdminServer(service, hub, cfg.AdminAddr)
	apiServer := http.NewAPIServer(sessions, service, hub, notifier, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return snapshotter.Run(gCtx)
	})

	g.Go(func() error {
		return notifier.Run(gCtx)
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		service.Close()
		return nil
	})

	return g.Wait()
}

func main() {
	requestChat := flag.String("request-chat", "", "Username or user id to request a chat with through the running daemon")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *requestChat); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
