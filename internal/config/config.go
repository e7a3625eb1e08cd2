package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBSchema    string `mapstructure:"DB_SCHEMA"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	CredentialsKey string `mapstructure:"CREDENTIALS_ENCRYPTION_KEY"`

	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`

	UpstreamSandboxURL     string        `mapstructure:"UPSTREAM_SANDBOX_URL"`
	UpstreamProductionURL  string        `mapstructure:"UPSTREAM_PRODUCTION_URL"`
	UpstreamAPIVersion     string        `mapstructure:"UPSTREAM_API_VERSION"`
	UpstreamTimeout        time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	// UpstreamMaxRetries is the retry budget for 5xx and network errors; 0
	// disables retries.
	UpstreamMaxRetries     int           `mapstructure:"UPSTREAM_MAX_RETRIES"`
	UpstreamRetryBaseDelay time.Duration `mapstructure:"UPSTREAM_RETRY_BASE_DELAY"`
	UpstreamRateLimitWait  time.Duration `mapstructure:"UPSTREAM_RATE_LIMIT_WAIT"`
	UpstreamRateLimitRPS   float64       `mapstructure:"UPSTREAM_RATE_LIMIT_RPS"`
	UpstreamPageSize       int           `mapstructure:"UPSTREAM_PAGE_SIZE"`

	SyncRunBudget             time.Duration `mapstructure:"SYNC_RUN_BUDGET"`
	SyncLookback              time.Duration `mapstructure:"SYNC_LOOKBACK"`
	SyncAppointmentWindowDays int           `mapstructure:"SYNC_APPOINTMENT_WINDOW_DAYS"`
	SyncLockTTL               time.Duration `mapstructure:"SYNC_LOCK_TTL"`

	HealthDegradedThreshold time.Duration `mapstructure:"HEALTH_DEGRADED_THRESHOLD"`
	IncrementalSyncInterval time.Duration `mapstructure:"INCREMENTAL_SYNC_INTERVAL"`
	HealthCheckInterval     time.Duration `mapstructure:"HEALTH_CHECK_INTERVAL"`

	WebhookSecret  string `mapstructure:"WEBHOOK_SECRET"`
	WebhookMaxBody string `mapstructure:"WEBHOOK_MAX_BODY"`
}

var defaults = map[string]interface{}{
	"PORT":                         "8000",
	"ENV":                          "development",
	"DB_SCHEMA":                    "public",
	"DB_MAX_CONNS":                 20,
	"DB_MIN_CONNS":                 2,
	"UPSTREAM_SANDBOX_URL":         "https://api.sandbox.practice-system.example/v2",
	"UPSTREAM_PRODUCTION_URL":      "https://api.practice-system.example/v2",
	"UPSTREAM_API_VERSION":         "2",
	"UPSTREAM_TIMEOUT":             "30s",
	"UPSTREAM_MAX_RETRIES":         3,
	"UPSTREAM_RETRY_BASE_DELAY":    "1s",
	"UPSTREAM_RATE_LIMIT_WAIT":     "60s",
	"UPSTREAM_RATE_LIMIT_RPS":      0,
	"UPSTREAM_PAGE_SIZE":           100,
	"SYNC_RUN_BUDGET":              "30m",
	"SYNC_LOOKBACK":                "24h",
	"SYNC_APPOINTMENT_WINDOW_DAYS": 30,
	"SYNC_LOCK_TTL":                "35m",
	"HEALTH_DEGRADED_THRESHOLD":    "1s",
	"INCREMENTAL_SYNC_INTERVAL":    "0s",
	"HEALTH_CHECK_INTERVAL":        "0s",
	"WEBHOOK_MAX_BODY":             "1M",
}

var keys = []string{
	"DATABASE_URL", "REDIS_URL", "CREDENTIALS_ENCRYPTION_KEY",
	"ADMIN_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"WEBHOOK_SECRET",
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory. Durations accept Go syntax ("90s", "30m").
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
		v.BindEnv(k)
	}
	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether the admin API verifies bearer tokens. Outside
// development it always does.
func (c *Config) AuthEnabled() bool {
	return !c.IsDev() || c.AdminJWTSecret != "" || c.AuthJWKSURL != ""
}

// Validate checks the configuration is safe to serve with.
func (c *Config) Validate() error {
	if c.CredentialsKey != "" {
		key, err := hex.DecodeString(c.CredentialsKey)
		if err != nil {
			return fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}
	if !c.IsDev() {
		if c.CredentialsKey == "" {
			return fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY is required when ENV=%q", c.Env)
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when ENV=%q", c.Env)
		}
		if c.AdminJWTSecret == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("ADMIN_JWT_SECRET or AUTH_JWKS_URL is required when ENV=%q", c.Env)
		}
	}
	if c.UpstreamPageSize < 1 || c.UpstreamPageSize > 1000 {
		return fmt.Errorf("UPSTREAM_PAGE_SIZE must be between 1 and 1000, got %d", c.UpstreamPageSize)
	}
	if c.UpstreamMaxRetries < 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must not be negative")
	}
	if c.SyncAppointmentWindowDays < 1 {
		return fmt.Errorf("SYNC_APPOINTMENT_WINDOW_DAYS must be at least 1")
	}
	if c.SyncRunBudget <= 0 {
		return fmt.Errorf("SYNC_RUN_BUDGET must be positive")
	}
	if c.SyncLockTTL < c.SyncRunBudget {
		return fmt.Errorf("SYNC_LOCK_TTL (%s) must not be shorter than SYNC_RUN_BUDGET (%s)", c.SyncLockTTL, c.SyncRunBudget)
	}
	return nil
}
