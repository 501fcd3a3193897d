package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/c-pro/geche"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	LoginFailedMessage = "Login failed"

	// failed attempts allowed before backoff kicks in
	freeAttempts = 3
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

type LoginRequest struct {
	Password string `json:"password"`
}

type SignUpRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

// attempts counts consecutive failed logins from one client to throttle
// password guessing.
type attempts struct {
	Failed int64
	Last   int64
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

// Validate decodes the secret. An empty secret is replaced with a random one,
// which only means view tokens do not survive a restart.
func (c *Config) Validate() error {
	if c.Secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("failed to generate auth secret: %w", err)
		}
		c.Secret = base64.StdEncoding.EncodeToString(b)
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// SessionService hands out tokens to views after the messenger account was
// unlocked through them.
type SessionService struct {
	Config
	attempts   *geche.Locker[string, *attempts]
	liveTokens geche.Geche[string, int64]
	now        func() time.Time
}

func NewSessionService(ctx context.Context, config Config) (*SessionService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SessionService{
		Config:     config,
		attempts:   geche.NewLocker[string, *attempts](geche.NewMapCache[string, *attempts]()),
		liveTokens: geche.NewMapTTLCache[string, int64](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// Allow reports whether client may try to log in now and, if not, how long
// it has to wait.
func (ss *SessionService) Allow(client string) (time.Duration, bool) {
	tx := ss.attempts.RLock()
	defer tx.Unlock()
	a, err := tx.Get(client)
	if err != nil || a.Failed <= freeAttempts {
		return 0, true
	}
	next := a.Last + 30*(a.Failed*a.Failed)
	now := ss.now().Unix()
	if now < next {
		return time.Duration(next-now) * time.Second, false
	}
	return 0, true
}

func (ss *SessionService) Failed(client string) {
	tx := ss.attempts.Lock()
	defer tx.Unlock()
	a, err := tx.Get(client)
	if err != nil {
		a = &attempts{}
		tx.Set(client, a)
	}
	a.Failed++
	a.Last = ss.now().Unix()
}

// Issue resets the client's failed attempts and returns a fresh token.
func (ss *SessionService) Issue(client string) (LoginResponse, error) {
	tx := ss.attempts.Lock()
	_ = tx.Del(client)
	tx.Unlock()

	token, err := ss.generateToken()
	if err != nil {
		return LoginResponse{Success: false, Message: "internal error"}, err
	}
	now := ss.now()
	ss.liveTokens.Set(ss.hashToken(token), now.Unix())

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(ss.TokenExpiry.Seconds()),
	}, nil
}

func (ss *SessionService) Validate(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if _, err := ss.liveTokens.Get(ss.hashToken(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func (ss *SessionService) Logoff(token string) error {
	return ss.liveTokens.Del(ss.hashToken(token))
}

// LogoffAll drops every issued token. The messenger account is locked for
// all views at once.
func (ss *SessionService) LogoffAll() {
	for k := range ss.liveTokens.Snapshot() {
		_ = ss.liveTokens.Del(k)
	}
}

// hashToken keeps raw tokens out of memory dumps of the cache.
func (ss *SessionService) hashToken(token string) string {
	h := hmac.New(sha512.New, ss.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (ss *SessionService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
