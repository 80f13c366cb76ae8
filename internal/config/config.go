package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the application.
type Config struct {
	Port             string
	DatabaseURL      string
	RedisURL         string
	NumWorkers       int
	RetryPollSeconds int
	RetentionDays    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		NumWorkers:       getEnvInt("NUM_WORKERS", 20),
		RetryPollSeconds: getEnvInt("RETRY_POLL_SECONDS", 30),
		RetentionDays:    getEnvInt("RETENTION_DAYS", 90),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
