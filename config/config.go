// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/liamcoop/dataquality/internal/logger"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	App      AppConfig
}

type ServerConfig struct {
	Port            string        `validate:"required,numeric"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type DatabaseConfig struct {
	URL          string `validate:"required"`
	MaxOpenConns int    `validate:"gte=0"`
}

type EngineConfig struct {
	// RulesConfig is the rule set file; empty uses the built-in rules
	RulesConfig        string
	Workers            int           `validate:"gte=0"`
	HistoryConcurrency int           `validate:"gte=0"`
	HistoryTimeout     time.Duration `validate:"gte=0"`
	HistoryCacheTTL    time.Duration `validate:"gte=0"`
}

type AppConfig struct {
	LogLevel string `validate:"omitempty,oneof=TRACE DEBUG INFO WARN ERROR FATAL trace debug info warn error fatal"`
}

var validate = validator.New()

// Load reads envFiles (default .env) into the environment without overriding
// variables that are already set, then builds the config.
// Missing env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
		logger.Debug("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		},
		Engine: EngineConfig{
			RulesConfig:        getEnv("RULES_CONFIG", ""),
			Workers:            getEnvAsInt("ENGINE_WORKERS", 0),
			HistoryConcurrency: getEnvAsInt("HISTORY_CONCURRENCY", 0),
			HistoryTimeout:     getEnvAsDuration("HISTORY_TIMEOUT", 2*time.Second),
			HistoryCacheTTL:    getEnvAsDuration("HISTORY_CACHE_TTL", 5*time.Minute),
		},
		App: AppConfig{
			LogLevel: getEnv("LOG_LEVEL", "INFO"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required values and ranges
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// HistoryConcurrencyLimit returns the cap on in-flight history lookups,
// defaulting to the connection pool size
func (c *Config) HistoryConcurrencyLimit() int {
	if c.Engine.HistoryConcurrency > 0 {
		return c.Engine.HistoryConcurrency
	}
	return c.Database.MaxOpenConns
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Warn("Invalid integer, using default", "key", key, "default", defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Warn("Invalid duration, using default", "key", key, "default", defaultValue.String())
		return defaultValue
	}

	return value
}
