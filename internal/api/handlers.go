package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"sigilix/internal/auth"
	"sigilix/internal/chat"
	"sigilix/internal/messenger"
	"sigilix/internal/models"
	"sigilix/internal/push"
	"sigilix/internal/ws"
)

type sessions interface {
	Allow(client string) (time.Duration, bool)
	Failed(client string)
	Issue(client string) (auth.LoginResponse, error)
	Validate(token string) error
	Logoff(token string) error
	LogoffAll()
}

type accountService interface {
	State(ctx context.Context) (string, error)
	SignUp(ctx context.Context, username, password, confirm string) error
	Login(ctx context.Context, password string) error
	Logout()
	Chats() []*chat.Chat
	UserID() uint64
	Username() string
}

type pushRegistry interface {
	Subscribe(sub webpush.Subscription) error
	PublicKey() string
}

type API struct {
	sessions sessions
	service  accountService
	push     pushRegistry
}

func New(sessions sessions, service accountService, push pushRegistry) *API {
	return &API{sessions: sessions, service: service, push: push}
}

type StateResponse struct {
	State string `json:"state"`
}

type MeResponse struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
}

type PushKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}

// StateHandler tells a view which screen to show.
func (a *API) StateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := a.service.State(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to get state: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{State: state})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	client := clientAddr(r)
	if wait, ok := a.sessions.Allow(client); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())))
		writeJSON(w, http.StatusTooManyRequests, auth.LoginResponse{
			Success: false,
			Message: fmt.Sprintf("Too many attempts, retry in %s", wait.Round(time.Second)),
		})
		return
	}

	if err := a.service.Login(r.Context(), req.Password); err != nil {
		a.sessions.Failed(client)
		writeJSON(w, http.StatusUnauthorized, auth.LoginResponse{
			Success: false,
			Message: auth.LoginFailedMessage,
		})
		return
	}

	a.issue(w, client)
}

func (a *API) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.service.SignUp(r.Context(), req.Username, req.Password, req.Confirm); err != nil {
		status := http.StatusBadGateway
		if isValidationError(err) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, auth.LoginResponse{Success: false, Message: err.Error()})
		return
	}

	a.issue(w, clientAddr(r))
}

func isValidationError(err error) bool {
	return errors.Is(err, messenger.ErrEmptyPassword) ||
		errors.Is(err, messenger.ErrPasswordMismatch) ||
		errors.Is(err, messenger.ErrInvalidUsername)
}

func (a *API) issue(w http.ResponseWriter, client string) {
	resp, err := a.sessions.Issue(client)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

// LogoffHandler locks the account for every view: the daemon serves a single
// messenger account.
func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.sessions.Logoff(token)
	}
	a.sessions.LogoffAll()
	a.service.Logout()

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.ViewChats(a.service.Chats()))
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MeResponse{
		UserID:   a.service.UserID(),
		Username: a.service.Username(),
	})
}

func (a *API) PushKeyHandler(w http.ResponseWriter, r *http.Request) {
	key := a.push.PublicKey()
	if key == "" {
		writeError(w, http.StatusNotFound, push.ErrDisabled.Error())
		return
	}
	writeJSON(w, http.StatusOK, PushKeyResponse{PublicKey: key})
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var sub webpush.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.push.Subscribe(sub); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, push.ErrDisabled) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

// RequireAuth rejects requests without a live view token.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.sessions.Validate(getToken(r)); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RequireSameOrigin rejects browser requests coming from a foreign page.
// Requests without an Origin header are not from a browser and pass.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
