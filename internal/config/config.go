package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds every runtime setting, read from the environment.
type Config struct {
	AppEnv    string `env:"APP_ENV" env-default:"development"`
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"text" env-description:"text or json"`

	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" env-default:":8080"`
	PublicBasePath string `env:"PUBLIC_BASE_PATH"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL" env-description:"external URL the gateway uses to reach /webhook"`

	DatabaseDriver string `env:"DATABASE_DRIVER" env-default:"postgres" env-description:"postgres or sqlite"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseSchema string `env:"DATABASE_SCHEMA"`
	SQLitePath     string `env:"SQLITE_PATH" env-default:"data/crm.db"`

	RedisAddr     string `env:"REDIS_ADDR" env-description:"empty disables redis"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisTLS      bool   `env:"REDIS_TLS" env-default:"false"`
	RealtimeRelay bool   `env:"REALTIME_RELAY" env-default:"false"`

	GatewayBaseURL string        `env:"GATEWAY_BASE_URL"`
	GatewayAPIKey  string        `env:"GATEWAY_API_KEY"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" env-default:"30s"`

	WebhookToken           string `env:"WEBHOOK_TOKEN"`
	WebhookDefaultTenantID int64  `env:"WEBHOOK_DEFAULT_TENANT_ID" env-default:"0"`

	StatusCacheTTL   time.Duration `env:"STATUS_CACHE_TTL" env-default:"3s"`
	MetricsNamespace string        `env:"METRICS_NAMESPACE" env-default:"crm"`
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		desc, _ := cleanenv.GetDescription(&cfg, nil)
		return nil, fmt.Errorf("%w; %s", err, desc)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	switch c.DatabaseDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.GatewayBaseURL == "" {
		return errors.New("GATEWAY_BASE_URL is required")
	}
	if c.RealtimeRelay && c.RedisAddr == "" {
		return errors.New("REALTIME_RELAY requires REDIS_ADDR")
	}
	if c.WebhookDefaultTenantID < 0 {
		return errors.New("WEBHOOK_DEFAULT_TENANT_ID must not be negative")
	}
	return nil
}

// WebhookURL returns the address the gateway should post events to, or "" when unknown.
func (c *Config) WebhookURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + "/webhook"
}
