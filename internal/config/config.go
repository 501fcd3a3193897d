package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	BackendURL      string
	BackendTimeout  time.Duration
	PollInterval    time.Duration
	DBFile          string
	AdminAddr       string
	APIAddr         string
	AuthSecret      string
	TokenExpiry     time.Duration
	LogLevel        slog.Level
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
}

// Load reads the configuration from the environment. cliMode skips the
// checks only the daemon needs.
func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "12h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}

	backendTimeout, err := time.ParseDuration(getEnv("BACKEND_TIMEOUT", "0s"))
	if err != nil {
		return nil, fmt.Errorf("BACKEND_TIMEOUT: %w", err)
	}

	pollInterval, err := time.ParseDuration(getEnv("POLL_INTERVAL", "100ms"))
	if err != nil {
		return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		BackendURL:      getEnv("SIGILIX_BACKEND_URL", "http://localhost:8055"),
		BackendTimeout:  backendTimeout,
		PollInterval:    pollInterval,
		DBFile:          getEnv("SIGILIX_DB", "sigilix.db"),
		AdminAddr:       getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:         getEnv("API_ADDR", "localhost:8080"),
		AuthSecret:      os.Getenv("AUTH_SECRET"),
		TokenExpiry:     tokenExpiry,
		LogLevel:        level,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:admin@localhost"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AdminAddr == "" {
		return fmt.Errorf("ADMIN_ADDR is required")
	}
	if cliMode {
		return nil
	}

	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SIGILIX_BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}

	if c.BackendTimeout < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must not be negative")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if c.VAPIDPublicKey != "" && !strings.HasPrefix(c.VAPIDSubscriber, "mailto:") && !strings.HasPrefix(c.VAPIDSubscriber, "https://") {
		return fmt.Errorf("VAPID_SUBSCRIBER must be a mailto: or https: URL")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
