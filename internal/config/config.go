/**
 * @description
 * This package handles the configuration management for the payroll-service and
 * its scheduler. It uses Viper to read configuration from environment variables,
 * with an optional .env file loaded for local development.
 *
 * @dependencies
 * - github.com/spf13/viper: environment binding, defaults and unmarshalling.
 * - github.com/joho/godotenv: loads a local .env file into the environment.
 */

package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultRateLimitPrefix = "payroll:rate_limit"

// Config holds all the configuration variables for the payroll-service.
type Config struct {
	ServerPort          string `mapstructure:"SERVER_PORT"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	DatabaseMaxConns    int32  `mapstructure:"DATABASE_MAX_CONNS"`
	DatabaseAutoMigrate bool   `mapstructure:"DATABASE_AUTO_MIGRATE"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`

	GridAPIBaseURL            string `mapstructure:"GRID_API_BASE_URL"`
	GridAPIKey                string `mapstructure:"GRID_API_KEY"`
	GridRequestTimeoutSeconds int    `mapstructure:"GRID_REQUEST_TIMEOUT_SECONDS"`
	GatewayMaxAttempts        int    `mapstructure:"GATEWAY_MAX_ATTEMPTS"`
	GatewayRetryBackoffMS     int    `mapstructure:"GATEWAY_RETRY_BACKOFF_MS"`
	PayrollCurrency           string `mapstructure:"PAYROLL_CURRENCY"`

	SolanaRPCURL              string `mapstructure:"SOLANA_RPC_URL"`
	SignatureConfirmAttempts  int    `mapstructure:"SIGNATURE_CONFIRM_ATTEMPTS"`
	SignatureConfirmBackoffMS int    `mapstructure:"SIGNATURE_CONFIRM_BACKOFF_MS"`

	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	SyncConcurrency             int `mapstructure:"SYNC_CONCURRENCY"`
	WriteRateLimit              int `mapstructure:"WRITE_RATE_LIMIT"`
	WriteRateLimitWindowSeconds int `mapstructure:"WRITE_RATE_LIMIT_WINDOW_SECONDS"`
	IdempotencyTTLMinutes       int `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`
}

// GridRequestTimeout is the per-request timeout for the payment provider.
func (c Config) GridRequestTimeout() time.Duration {
	return time.Duration(c.GridRequestTimeoutSeconds) * time.Second
}

// GatewayRetryBackoff is the base backoff between provider retries.
func (c Config) GatewayRetryBackoff() time.Duration {
	return time.Duration(c.GatewayRetryBackoffMS) * time.Millisecond
}

// SignatureConfirmBackoff is the base backoff between signature lookups.
func (c Config) SignatureConfirmBackoff() time.Duration {
	return time.Duration(c.SignatureConfirmBackoffMS) * time.Millisecond
}

// WriteRateLimitWindow is the fixed window WriteRateLimit applies to.
func (c Config) WriteRateLimitWindow() time.Duration {
	return time.Duration(c.WriteRateLimitWindowSeconds) * time.Second
}

// IdempotencyTTL is how long a completed idempotency key is honoured.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

// LoadConfig reads the payroll-service configuration. An optional .env file in
// path is loaded first; real environment variables take precedence over it.
func LoadConfig(path string) (config Config, err error) {
	loadDotEnv(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DATABASE_MAX_CONNS", 20)
	viper.SetDefault("DATABASE_AUTO_MIGRATE", false)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("NOTIFICATION_EXCHANGE", "notifications")
	viper.SetDefault("GRID_API_BASE_URL", "https://grid.squads.xyz/api/grid/v1")
	viper.SetDefault("GRID_REQUEST_TIMEOUT_SECONDS", 30)
	viper.SetDefault("GATEWAY_MAX_ATTEMPTS", 3)
	viper.SetDefault("GATEWAY_RETRY_BACKOFF_MS", 500)
	viper.SetDefault("PAYROLL_CURRENCY", "USDC")
	viper.SetDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	viper.SetDefault("SIGNATURE_CONFIRM_ATTEMPTS", 5)
	viper.SetDefault("SIGNATURE_CONFIRM_BACKOFF_MS", 1000)
	viper.SetDefault("SYNC_CONCURRENCY", 4)
	viper.SetDefault("WRITE_RATE_LIMIT", 30)
	viper.SetDefault("WRITE_RATE_LIMIT_WINDOW_SECONDS", 60)
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 1440)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DATABASE_MAX_CONNS")
	_ = viper.BindEnv("DATABASE_AUTO_MIGRATE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYROLL_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("GRID_API_BASE_URL")
	_ = viper.BindEnv("GRID_API_KEY")
	_ = viper.BindEnv("PAYROLL_CURRENCY")
	_ = viper.BindEnv("SOLANA_RPC_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYROLL_SERVICE_INTERNAL_API_KEY")

	// Numeric keys are read as strings below so bad values fall back instead of failing Unmarshal.
	numeric := map[string]int{
		"GRID_REQUEST_TIMEOUT_SECONDS":    30,
		"GATEWAY_MAX_ATTEMPTS":            3,
		"GATEWAY_RETRY_BACKOFF_MS":        500,
		"SIGNATURE_CONFIRM_ATTEMPTS":      5,
		"SIGNATURE_CONFIRM_BACKOFF_MS":    1000,
		"SYNC_CONCURRENCY":                4,
		"WRITE_RATE_LIMIT":                30,
		"WRITE_RATE_LIMIT_WINDOW_SECONDS": 60,
		"IDEMPOTENCY_TTL_MINUTES":         1440,
		"DATABASE_MAX_CONNS":              20,
	}
	values := make(map[string]int, len(numeric))
	for key, fallback := range numeric {
		_ = viper.BindEnv(key)
		values[key] = intSetting(key, fallback)
		viper.Set(key, values[key])
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.GridAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.GridAPIBaseURL), "/")
	return config, nil
}

// SchedulerConfig holds all configuration for the scheduler-service.
type SchedulerConfig struct {
	PayrollServiceURL      string `mapstructure:"PAYROLL_SERVICE_URL"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	PayrollSyncJobSchedule string `mapstructure:"PAYROLL_SYNC_JOB_SCHEDULE"`
}

// LoadSchedulerConfig reads the scheduler configuration from the environment.
func LoadSchedulerConfig(path string) (*SchedulerConfig, error) {
	loadDotEnv(path)
	viper.SetDefault("PAYROLL_SERVICE_URL", "http://localhost:8080")
	viper.SetDefault("PAYROLL_SYNC_JOB_SCHEDULE", "*/15 * * * *") // Every 15 minutes.
	viper.AutomaticEnv()

	_ = viper.BindEnv("PAYROLL_SERVICE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYROLL_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PAYROLL_SYNC_JOB_SCHEDULE")

	var config SchedulerConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.PayrollServiceURL = strings.TrimRight(strings.TrimSpace(config.PayrollServiceURL), "/")
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if strings.TrimSpace(config.PayrollSyncJobSchedule) == "" {
		config.PayrollSyncJobSchedule = "*/15 * * * *"
	}
	return &config, nil
}

// loadDotEnv loads path/.env without overriding variables that are already set.
func loadDotEnv(path string) {
	if path == "" {
		path = "."
	}
	file := filepath.Join(path, ".env")
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file; using environment values", "component", "config", "file", file, "error", err)
	}
}

// intSetting returns the value of key, or fallback with a warning when the value
// is not a positive integer.
func intSetting(key string, fallback int) int {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		slog.Warn("invalid numeric setting; using default", "component", "config", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return value
}
