// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the application configuration.
type Config struct {
	Port         int
	DBPath       string
	BaseURL      string
	InstanceName string
	LogLevel     string
	NotifyBuffer int

	// ApprovalSweepMinutes is the interval of the auto-approval sweep.
	// Zero disables the sweep.
	ApprovalSweepMinutes int
}

// Load reads configuration from the environment, with a .env file as
// optional overlay.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment defaults")
	}

	return &Config{
		Port:                 getEnvInt("PORT", 8080),
		DBPath:               getEnv("DB_PATH", "./reserves.db"),
		BaseURL:              getEnv("BASE_URL", "http://localhost:8080"),
		InstanceName:         getEnv("INSTANCE_NAME", "allocation-engine"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		NotifyBuffer:         getEnvInt("NOTIFY_BUFFER", 64),
		ApprovalSweepMinutes: getEnvInt("APPROVAL_SWEEP_MINUTES", 5),
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer in environment, using default")
		return defaultValue
	}
	return n
}
