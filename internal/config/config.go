package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Session store backends accepted by SESSION_STORE.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config aggregates every setting of the widget backend.
type Config struct {
	Server  ServerConfig
	Webhook WebhookConfig
	Session SessionConfig
	Widget  WidgetConfig
	Log     LogConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
}

// WebhookConfig describes the remote agent endpoint every exchange is posted to.
type WebhookConfig struct {
	URL     string        `env:"WEBHOOK_URL"`
	Timeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"30s"`
}

// SessionConfig controls where session identifiers are persisted.
type SessionConfig struct {
	Key         string `env:"SESSION_KEY" envDefault:"chat_widget_session_id"`
	Store       string `env:"SESSION_STORE" envDefault:"memory"`
	SQLitePath  string `env:"SESSION_SQLITE_PATH" envDefault:"widget-sessions.db"`
	RedisAddr   string `env:"SESSION_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix string `env:"SESSION_REDIS_PREFIX" envDefault:"widget:"`
}

// WidgetConfig holds per-instance widget behavior.
type WidgetConfig struct {
	Greeting string        `env:"WIDGET_GREETING" envDefault:"Hi! How can I help you today?"`
	IdleTTL  time.Duration `env:"WIDGET_IDLE_TTL" envDefault:"30m"`
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses the environment into a Config. It does not validate; binaries that
// override values from flags call Validate afterwards.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Session.Store = strings.ToLower(strings.TrimSpace(cfg.Session.Store))
	return cfg, nil
}

// Validate checks the settings that cannot be expressed as struct tags.
func (c *Config) Validate() error {
	raw := strings.TrimSpace(c.Webhook.URL)
	if raw == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid WEBHOOK_URL value: %q", raw)
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("invalid WEBHOOK_TIMEOUT value: %s", c.Webhook.Timeout)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.Session.SQLitePath) == "" {
			return fmt.Errorf("SESSION_SQLITE_PATH is required for the sqlite store")
		}
	case StoreRedis:
		if strings.TrimSpace(c.Session.RedisAddr) == "" {
			return fmt.Errorf("SESSION_REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid SESSION_STORE value: %q", c.Session.Store)
	}

	if strings.TrimSpace(c.Session.Key) == "" {
		return fmt.Errorf("SESSION_KEY must not be empty")
	}
	if _, err := c.Server.Addr(); err != nil {
		return err
	}
	return nil
}

// Addr resolves the listen address from PORT.
func (s ServerConfig) Addr() (string, error) {
	port := strings.TrimSpace(s.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as given.
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
