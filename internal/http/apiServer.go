package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"sigilix/internal/api"
	"sigilix/internal/auth"
	"sigilix/internal/messenger"
	"sigilix/internal/push"
	"sigilix/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(sessions *auth.SessionService, service *messenger.Service, hub *ws.Hub, notifier *push.Notifier, addr string) *APIServer {
	server := ws.NewServer(sessions, hub, service)
	apiHandlers := api.New(sessions, service, notifier)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", apiHandlers.StateHandler)
	mux.HandleFunc("POST /api/signup", api.RequireSameOrigin(apiHandlers.SignUpHandler))
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/chats", apiHandlers.RequireAuth(apiHandlers.ChatsHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("GET /api/push/key", apiHandlers.RequireAuth(apiHandlers.PushKeyHandler))
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	// WebSocket endpoint
	mux.HandleFunc("/api/view", server.HandleConnections)

	if addr == "" {
		addr = "localhost:8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
