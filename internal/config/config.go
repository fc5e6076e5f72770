package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development" validate:"oneof=development production"`
	Port    string `env:"PORT" envDefault:"8080"`
	BaseURL string `env:"BASE_URL" validate:"omitempty,url"`

	HTTPWriteTimeout        time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ReconcileRequestTimeout time.Duration `env:"RECONCILE_REQUEST_TIMEOUT" envDefault:"5m"`

	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL   string `env:"DATABASE_URL" validate:"required_if=StoreProvider postgres"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	SessionStoreProvider  string `env:"SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=SessionStoreProvider redis"`

	WompiEnv             string        `env:"WOMPI_ENV" envDefault:"sandbox" validate:"oneof=sandbox production"`
	WompiAPIBaseURL      string        `env:"WOMPI_API_BASE_URL" validate:"omitempty,url"`
	WompiPublicKey       string        `env:"WOMPI_PUBLIC_KEY"`
	WompiPrivateKey      string        `env:"WOMPI_PRIVATE_KEY"`
	WompiIntegritySecret string        `env:"WOMPI_INTEGRITY_SECRET"`
	WompiEventsSecret    string        `env:"WOMPI_EVENTS_SECRET"`
	WompiRedirectURL     string        `env:"WOMPI_REDIRECT_URL" validate:"omitempty,url"`
	WompiTimeout         time.Duration `env:"WOMPI_TIMEOUT" envDefault:"15s"`

	StoreCurrency     string `env:"STORE_CURRENCY" envDefault:"COP" validate:"len=3,uppercase"`
	LowStockThreshold int    `env:"LOW_STOCK_THRESHOLD" envDefault:"5" validate:"gte=0"`

	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"0s"`
	ReconcileWindow      time.Duration `env:"RECONCILE_WINDOW" envDefault:"24h"`
	ReconcileConcurrency int           `env:"RECONCILE_CONCURRENCY" envDefault:"4" validate:"min=1,max=64"`

	AdminTokenSecret string `env:"ADMIN_TOKEN_SECRET"`
	ClaimTokenSecret string `env:"CLAIM_TOKEN_SECRET"`

	EmailProvider string   `env:"EMAIL_PROVIDER" envDefault:"none" validate:"omitempty,oneof=none resend postmark"`
	EmailAPIKey   string   `env:"EMAIL_API_KEY" validate:"required_if=EmailProvider resend,required_if=EmailProvider postmark"`
	EmailFrom     string   `env:"EMAIL_FROM" validate:"omitempty,email"`
	StaffEmails   []string `env:"STAFF_EMAILS" envSeparator:"," validate:"dive,email"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"payments.events"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
}

var configValidator = validator.New()

// ResponseMargin is the time a handler keeps after a provider fetch gives up to
// write its fallback response before the server's write deadline.
const ResponseMargin = 5 * time.Second

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ProductionGrade reports whether missing payment secrets must stop startup.
func (c *Config) ProductionGrade() bool {
	return c.AppEnv == "production" || c.WompiEnv == "production"
}

// SecureCookies reports whether session cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	parsed, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || parsed.Hostname() == "" {
		return c.AppEnv == "production"
	}
	return strings.EqualFold(parsed.Scheme, "https")
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.WompiTimeout <= 0 {
		return fmt.Errorf("WOMPI_TIMEOUT must be positive")
	}
	if c.HTTPWriteTimeout < c.WompiTimeout+ResponseMargin {
		return fmt.Errorf("HTTP_WRITE_TIMEOUT (%s) must exceed WOMPI_TIMEOUT (%s) by at least %s", c.HTTPWriteTimeout, c.WompiTimeout, ResponseMargin)
	}
	if c.ReconcileRequestTimeout < c.HTTPWriteTimeout {
		return fmt.Errorf("RECONCILE_REQUEST_TIMEOUT must not be shorter than HTTP_WRITE_TIMEOUT")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.ReconcileWindow <= 0 {
		return fmt.Errorf("RECONCILE_WINDOW must be positive")
	}
	if c.EmailProvider != "" && c.EmailProvider != "none" && strings.TrimSpace(c.EmailFrom) == "" {
		return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER is set")
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL != "" {
		if err := requireSecureURL("BASE_URL", baseURL); err != nil {
			return err
		}
	}

	if !c.ProductionGrade() {
		return nil
	}

	required := []struct {
		name  string
		value string
	}{
		{"WOMPI_PUBLIC_KEY", c.WompiPublicKey},
		{"WOMPI_PRIVATE_KEY", c.WompiPrivateKey},
		{"WOMPI_INTEGRITY_SECRET", c.WompiIntegritySecret},
		{"WOMPI_EVENTS_SECRET", c.WompiEventsSecret},
		{"WOMPI_REDIRECT_URL", c.WompiRedirectURL},
		{"ADMIN_TOKEN_SECRET", c.AdminTokenSecret},
		{"CLAIM_TOKEN_SECRET", c.ClaimTokenSecret},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s is required in production", field.name)
		}
	}
	if c.StoreProvider != "postgres" {
		return fmt.Errorf("STORE_PROVIDER must be postgres in production")
	}

	redirect, err := url.Parse(strings.TrimSpace(c.WompiRedirectURL))
	if err != nil || redirect.Hostname() == "" {
		return fmt.Errorf("WOMPI_REDIRECT_URL must be a valid absolute URL")
	}
	if isLocalHost(redirect.Hostname()) || !strings.EqualFold(redirect.Scheme, "https") {
		return fmt.Errorf("WOMPI_REDIRECT_URL must be an https URL outside localhost in production")
	}

	return nil
}

func requireSecureURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return fmt.Errorf("%s must be a valid absolute URL", name)
	}
	if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%s must use https outside local development", name)
	}
	return nil
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
