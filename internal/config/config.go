/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), providing a centralized way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/joho/godotenv: Loads a .env file during local development.
 */

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all the configuration variables for the entitlement service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	StoreDriver                string `mapstructure:"STORE_DRIVER"`
	RunMigrations              bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	IdempotencyPrefix          string `mapstructure:"IDEMPOTENCY_PREFIX"`
	IdempotencyTTLMinutes      int    `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	PurchaseEventQueue         string `mapstructure:"PURCHASE_EVENT_QUEUE"`
	StaffJWTSecret             string `mapstructure:"STAFF_JWT_SECRET"`
	VenueTimezone              string `mapstructure:"VENUE_TIMEZONE"`
	MaterializerEnabled        bool   `mapstructure:"MATERIALIZER_ENABLED"`
	MaterializerSchedule       string `mapstructure:"MATERIALIZER_SCHEDULE"`
	MaterializerHorizonDays    int    `mapstructure:"MATERIALIZER_HORIZON_DAYS"`
	MaterializerMaxHorizonDays int    `mapstructure:"MATERIALIZER_MAX_HORIZON_DAYS"`
	OptimisticRetryLimit       int    `mapstructure:"OPTIMISTIC_RETRY_LIMIT"`
	LockTimeoutMs              int    `mapstructure:"LOCK_TIMEOUT_MS"`
	RequestTimeoutSeconds      int    `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	MetricsEnabled             bool   `mapstructure:"METRICS_ENABLED"`
	LogLevel                   string `mapstructure:"LOG_LEVEL"`

	// Location is resolved from VenueTimezone.
	Location *time.Location `mapstructure:"-"`
}

// LockTimeout is the row-lock wait bound for credit withdrawals.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// RequestTimeout bounds a single API request or consumed message.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// IdempotencyTTL is how long a processed purchase event reference is remembered in Redis.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

// LoadConfig reads configuration from environment variables, optionally seeded
// from a .env file in path.
func LoadConfig(path string) (config Config, err error) {
	// A missing .env file is normal outside local development.
	if loadErr := godotenv.Load(filepath.Join(path, ".env")); loadErr != nil && !errors.Is(loadErr, os.ErrNotExist) {
		slog.Warn("failed to read .env file; using environment values", "error", loadErr)
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("IDEMPOTENCY_PREFIX", "sports:idempotency")
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 1440)
	viper.SetDefault("EVENTS_EXCHANGE", "sports.events")
	viper.SetDefault("PURCHASE_EVENT_QUEUE", "entitlement_service.purchases")
	viper.SetDefault("VENUE_TIMEZONE", "UTC")
	viper.SetDefault("MATERIALIZER_ENABLED", true)
	viper.SetDefault("MATERIALIZER_SCHEDULE", "0 3 * * *") // nightly at 03:00 venue time
	viper.SetDefault("MATERIALIZER_HORIZON_DAYS", 28)
	viper.SetDefault("MATERIALIZER_MAX_HORIZON_DAYS", 366)
	viper.SetDefault("OPTIMISTIC_RETRY_LIMIT", 3)
	viper.SetDefault("LOCK_TIMEOUT_MS", 5000)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 15)
	viper.SetDefault("METRICS_ENABLED", true)
	viper.SetDefault("LOG_LEVEL", "info")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("IDEMPOTENCY_PREFIX")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_MINUTES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PURCHASE_EVENT_QUEUE")
	_ = viper.BindEnv("STAFF_JWT_SECRET")
	_ = viper.BindEnv("VENUE_TIMEZONE")
	_ = viper.BindEnv("MATERIALIZER_ENABLED")
	_ = viper.BindEnv("MATERIALIZER_SCHEDULE")
	_ = viper.BindEnv("MATERIALIZER_HORIZON_DAYS")
	_ = viper.BindEnv("MATERIALIZER_MAX_HORIZON_DAYS")
	_ = viper.BindEnv("OPTIMISTIC_RETRY_LIMIT")
	_ = viper.BindEnv("LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("REQUEST_TIMEOUT_SECONDS")
	_ = viper.BindEnv("METRICS_ENABLED")
	_ = viper.BindEnv("LOG_LEVEL")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(config.DatabaseURL) == "" {
			return config, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMemory:
	default:
		return config, fmt.Errorf("unsupported STORE_DRIVER %q", config.StoreDriver)
	}

	config.Location, err = time.LoadLocation(strings.TrimSpace(config.VenueTimezone))
	if err != nil {
		return config, fmt.Errorf("invalid VENUE_TIMEZONE %q: %w", config.VenueTimezone, err)
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.IdempotencyPrefix = strings.TrimSuffix(strings.TrimSpace(config.IdempotencyPrefix), ":")
	if config.IdempotencyPrefix == "" {
		config.IdempotencyPrefix = "sports:idempotency"
	}

	if config.OptimisticRetryLimit <= 0 {
		slog.Warn("invalid OPTIMISTIC_RETRY_LIMIT; using default", "value", config.OptimisticRetryLimit)
		config.OptimisticRetryLimit = 3
	}
	if config.MaterializerMaxHorizonDays <= 0 {
		config.MaterializerMaxHorizonDays = 366
	}
	if config.MaterializerHorizonDays <= 0 || config.MaterializerHorizonDays > config.MaterializerMaxHorizonDays {
		slog.Warn("invalid MATERIALIZER_HORIZON_DAYS; using default", "value", config.MaterializerHorizonDays)
		config.MaterializerHorizonDays = 28
	}
	if config.LockTimeoutMs < 0 {
		config.LockTimeoutMs = 0
	}
	if config.RequestTimeoutSeconds <= 0 {
		config.RequestTimeoutSeconds = 15
	}
	if config.IdempotencyTTLMinutes <= 0 {
		config.IdempotencyTTLMinutes = 1440
	}

	return config, nil
}
