package infra

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Ledger storage drivers.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerMongo    = "mongo"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   string `env:"PORT" envDefault:"8080"`

	JWTSecret  string        `env:"JWT_SECRET_KEY,required,notEmpty"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	GoogleClientID  string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleIssuer    string        `env:"GOOGLE_ISSUER" envDefault:"https://accounts.google.com"`
	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	StripePriceID       string        `env:"STRIPE_PRICE_ID,required,notEmpty"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	BillingTimeout      time.Duration `env:"BILLING_TIMEOUT" envDefault:"15s"`
	WebhookDedupTTL     time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"72h"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	FreeQuota   int    `env:"FREE_QUOTA" envDefault:"3"`

	StorageConfig
	RedisURL string `env:"REDIS_URL"`

	MeteredUpstreamURL string   `env:"METERED_UPSTREAM_URL"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	GeoIPDBPath        string   `env:"GEOIP_DB_PATH"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	RateLimitPerMin  int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
}

// StorageConfig selects and locates the ledger backend. Tools that only touch
// the ledger load it on its own via LoadStorageConfig.
type StorageConfig struct {
	LedgerDriver  string `env:"LEDGER_DRIVER" envDefault:"memory"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MongoURL      string `env:"MONGODB_URL"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"entitlements"`
}

// LoadConfig parses the environment into a Config and fails on missing or inconsistent values.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorageConfig parses only the ledger storage settings.
func LoadStorageConfig() (*Config, error) {
	var sc StorageConfig
	if err := env.Parse(&sc); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &Config{StorageConfig: sc}, nil
}

// Validate checks that the selected driver has its connection settings.
func (c StorageConfig) Validate() error {
	switch c.LedgerDriver {
	case LedgerMemory:
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when LEDGER_DRIVER=postgres")
		}
	case LedgerMongo:
		if c.MongoURL == "" {
			return errors.New("MONGODB_URL is required when LEDGER_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER %q is not one of memory, postgres, mongo", c.LedgerDriver)
	}
	return nil
}

// Validate checks cross-field requirements the struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if err := c.StorageConfig.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := url.ParseRequestURI(c.FrontendURL); err != nil {
		errs = append(errs, fmt.Errorf("FRONTEND_URL: %w", err))
	}
	if c.MeteredUpstreamURL != "" {
		if _, err := url.ParseRequestURI(c.MeteredUpstreamURL); err != nil {
			errs = append(errs, fmt.Errorf("METERED_UPSTREAM_URL: %w", err))
		}
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.FreeQuota < 0 {
		errs = append(errs, errors.New("FREE_QUOTA must not be negative"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// WebhookVerificationEnabled reports whether a signing secret is configured.
func (c *Config) WebhookVerificationEnabled() bool {
	return c.StripeWebhookSecret != ""
}
