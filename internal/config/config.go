package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the sync engine needs at construction time.
type Config struct {
	APIBaseURL     string
	Environment    string // namespaces cursor/settings keys, e.g. "prod"
	UserID         string
	StorePath      string // entity + mutation-queue database file
	SettingsPath   string // independent settings database file
	RequestTimeout time.Duration
	BatchSize      int // bulk create chunk size
	PullPageSize   int // change-feed page size
}

// LoadConfig reads configuration from the environment, honoring a .env file
// if one is present.
func LoadConfig() (*Config, error) {
	godotenv.Load()

	timeoutStr := getEnv("TRACKSYNC_REQUEST_TIMEOUT", "30s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, errors.New("invalid TRACKSYNC_REQUEST_TIMEOUT format")
	}

	cfg := &Config{
		APIBaseURL:     os.Getenv("TRACKSYNC_API_URL"),
		Environment:    getEnv("TRACKSYNC_ENV", "prod"),
		UserID:         os.Getenv("TRACKSYNC_USER_ID"),
		StorePath:      getEnv("TRACKSYNC_STORE_PATH", "tracksync.db"),
		SettingsPath:   getEnv("TRACKSYNC_SETTINGS_PATH", "tracksync-settings.db"),
		RequestTimeout: timeout,
		BatchSize:      getEnvInt("TRACKSYNC_BATCH_SIZE", 50),
		PullPageSize:   getEnvInt("TRACKSYNC_PULL_PAGE_SIZE", 100),
	}

	// Validate required fields
	if cfg.APIBaseURL == "" {
		return nil, errors.New("TRACKSYNC_API_URL is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("TRACKSYNC_USER_ID is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
