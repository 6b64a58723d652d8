// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultDatabasePath is where the bot keeps its SQLite database unless
// DATABASE_PATH overrides it. The migrate tool shares this default.
const DefaultDatabasePath = "./data/bot.db"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	CheckSchedule    string
	BatchSize        int
	RetentionDays    int
	FetchTimeout     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = DefaultDatabasePath
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	schedule := os.Getenv("CHECK_SCHEDULE")
	if schedule == "" {
		schedule = "@every 10m"
	}

	batchSize, err := intEnv("BATCH_SIZE", 30)
	if err != nil {
		return nil, err
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be at least 1")
	}

	retentionDays, err := intEnv("RETENTION_DAYS", 30)
	if err != nil {
		return nil, err
	}
	if retentionDays < 1 {
		return nil, fmt.Errorf("RETENTION_DAYS must be at least 1")
	}

	timeoutSec, err := intEnv("FETCH_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	if timeoutSec < 1 {
		return nil, fmt.Errorf("FETCH_TIMEOUT_SECONDS must be at least 1")
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		CheckSchedule:    schedule,
		BatchSize:        batchSize,
		RetentionDays:    retentionDays,
		FetchTimeout:     time.Duration(timeoutSec) * time.Second,
	}, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
