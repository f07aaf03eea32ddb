package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Settlement SettlementConfig
	Poller     PollerConfig
	Surface    SurfaceConfig
	Store      StoreConfig
	Session    SessionConfig
	Secrets    SecretsConfig
	Logger     LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	MetricsPort     int
	ShutdownTimeout time.Duration
	// Per-client request rate on the checkout API
	RateLimitPerSecond float64
	RateLimitBurst     int
	SessionIdleTimeout time.Duration
}

// SettlementConfig holds settlement backend configuration
type SettlementConfig struct {
	BaseURL string
	// APIKey is used as-is when set; otherwise APIKeySecretPath is read from the secret manager
	APIKey           string
	APIKeySecretPath string
	Timeout          time.Duration
	BreakerFailures  int
	BreakerCooldown  time.Duration
}

// PollerConfig holds reconciliation watch intervals
type PollerConfig struct {
	CloseWatchInterval  time.Duration
	StatusWatchInterval time.Duration
	Ceiling             time.Duration
}

// SurfaceConfig holds hosted payment window settings
type SurfaceConfig struct {
	LoadGrace      time.Duration
	HeartbeatGrace time.Duration
	OpenRate       float64
	OpenBurst      int
	// Origins processor documents may post to, e.g. https://openapi.alipay.com
	ProcessorOrigins []string
}

// StoreConfig selects the pending payment store backend
type StoreConfig struct {
	Backend      string // memory, file, postgres, redis
	FileDir      string
	DatabaseURL  string
	RedisAddr    string
	RedisDB      int
	RedisTTL     time.Duration
	MaxRecordAge time.Duration
}

// SessionConfig holds cookie session and bearer token settings
type SessionConfig struct {
	CookieName string
	// Signing key for cookies and HS256 tokens; read from SigningKeySecretPath when empty
	SigningKey           string
	SigningKeySecretPath string
	// PreviousKeyVersion names the secret version still accepted after a rotation
	PreviousKeyVersion   string
	TokenIssuer          string
	Secure               bool
}

// SecretsConfig selects the secret manager
type SecretsConfig struct {
	Manager      string // local, aws, gcp, vault
	LocalPath    string
	AWSRegion    string
	GCPProjectID string
	VaultAddress string
	VaultToken   string
	CacheTTL     time.Duration
}

var defaultProcessorOrigins = []string{"https://openapi.alipay.com", "https://www.paypal.com"}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// Load reads an optional .env file, then the environment
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Host:               env.str("SERVER_HOST", "0.0.0.0"),
			Port:               env.integer("SERVER_PORT", 8080),
			MetricsPort:        env.integer("METRICS_PORT", 9090),
			ShutdownTimeout:    env.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
			RateLimitPerSecond: env.float("RATE_LIMIT_RPS", 10),
			RateLimitBurst:     env.integer("RATE_LIMIT_BURST", 20),
			SessionIdleTimeout: env.duration("CHECKOUT_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		},
		Settlement: SettlementConfig{
			BaseURL:          strings.TrimRight(env.str("SETTLEMENT_BASE_URL", ""), "/"),
			APIKey:           env.str("SETTLEMENT_API_KEY", ""),
			APIKeySecretPath: env.str("SETTLEMENT_API_KEY_SECRET", "subscription-checkout/settlement/api-key"),
			Timeout:          env.duration("SETTLEMENT_TIMEOUT", 10*time.Second),
			BreakerFailures:  env.integer("SETTLEMENT_BREAKER_FAILURES", 5),
			BreakerCooldown:  env.duration("SETTLEMENT_BREAKER_COOLDOWN", 30*time.Second),
		},
		Poller: PollerConfig{
			CloseWatchInterval:  env.duration("POLL_CLOSE_INTERVAL", time.Second),
			StatusWatchInterval: env.duration("POLL_STATUS_INTERVAL", 5*time.Second),
			Ceiling:             env.duration("POLL_CEILING", 10*time.Minute),
		},
		Surface: SurfaceConfig{
			LoadGrace:        env.duration("SURFACE_LOAD_GRACE", 30*time.Second),
			HeartbeatGrace:   env.duration("SURFACE_HEARTBEAT_GRACE", 6*time.Second),
			OpenRate:         env.float("SURFACE_OPEN_RATE", 0.2),
			OpenBurst:        env.integer("SURFACE_OPEN_BURST", 3),
			ProcessorOrigins: env.list("SURFACE_PROCESSOR_ORIGINS", defaultProcessorOrigins),
		},
		Store: StoreConfig{
			Backend:      env.str("PENDING_STORE", "memory"),
			FileDir:      env.str("PENDING_STORE_DIR", "./data/pending"),
			DatabaseURL:  env.str("DATABASE_URL", ""),
			RedisAddr:    env.str("REDIS_ADDR", "localhost:6379"),
			RedisDB:      env.integer("REDIS_DB", 0),
			RedisTTL:     env.duration("PENDING_STORE_TTL", 24*time.Hour),
			MaxRecordAge: env.duration("PENDING_MAX_AGE", 24*time.Hour),
		},
		Session: SessionConfig{
			CookieName:           env.str("SESSION_COOKIE", "checkout_session"),
			SigningKey:           env.str("SESSION_SIGNING_KEY", ""),
			SigningKeySecretPath: env.str("SESSION_SIGNING_KEY_SECRET", "subscription-checkout/session/signing-key"),
			PreviousKeyVersion:   env.str("SESSION_PREVIOUS_KEY_VERSION", ""),
			TokenIssuer:          env.str("SESSION_TOKEN_ISSUER", "subscription-checkout"),
			Secure:               env.boolean("SESSION_SECURE", true),
		},
		Secrets: SecretsConfig{
			Manager:      env.str("SECRET_MANAGER", "local"),
			LocalPath:    env.str("LOCAL_SECRETS_PATH", "./secrets"),
			AWSRegion:    env.str("AWS_REGION", "us-east-1"),
			GCPProjectID: env.str("GCP_PROJECT_ID", ""),
			VaultAddress: env.str("VAULT_ADDR", ""),
			VaultToken:   env.str("VAULT_TOKEN", ""),
			CacheTTL:     env.duration("SECRET_CACHE_TTL", 5*time.Minute),
		},
		Logger: LoggerConfig{
			Level:       env.str("LOG_LEVEL", "info"),
			Development: env.boolean("LOG_DEVELOPMENT", false),
		},
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and cross-field constraints
func (c *Config) Validate() error {
	if c.Settlement.BaseURL == "" {
		return fmt.Errorf("SETTLEMENT_BASE_URL is required")
	}
	if c.Poller.CloseWatchInterval <= 0 || c.Poller.StatusWatchInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Poller.Ceiling <= c.Poller.StatusWatchInterval {
		return fmt.Errorf("POLL_CEILING must exceed POLL_STATUS_INTERVAL")
	}

	switch c.Store.Backend {
	case "memory", "file", "redis":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when PENDING_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown PENDING_STORE %q", c.Store.Backend)
	}

	switch c.Secrets.Manager {
	case "local", "aws":
	case "gcp":
		if c.Secrets.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when SECRET_MANAGER=gcp")
		}
	case "vault":
		if c.Secrets.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when SECRET_MANAGER=vault")
		}
	default:
		return fmt.Errorf("unknown SECRET_MANAGER %q", c.Secrets.Manager)
	}
	return nil
}
