package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

type tokenValidator interface {
	Validate(token string) error
}

type Server struct {
	auth     tokenValidator
	hub      *Hub
	service  chatService
	upgrader *websocket.Upgrader
}

func NewServer(auth tokenValidator, hub *Hub, service chatService) *Server {
	return &Server{
		auth:    auth,
		hub:     hub,
		service: service,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // views are served from other origins
			},
		},
	}
}

// HandleConnections upgrades an authenticated view request. Browsers cannot
// set headers on websocket requests, so the token may come as a query
// parameter.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.Header.Get("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if err := s.auth.Validate(token); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, s.service, ws)
	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("view connection closed: %v", err)
	}
}
