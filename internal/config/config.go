package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the daemon.
type Config struct {
	DatabaseURL string

	// Remote collaboration store. Empty RemoteBaseURL runs local-only with an
	// in-memory store.
	RemoteBaseURL    string
	RemoteToken      string
	RemotePollPeriod time.Duration

	// Telegram delivery for geofence alerts and the daily digest; optional.
	TelegramToken  string
	TelegramChatID int64

	Workers      int
	SyncInterval time.Duration
	DigestTime   string // HH:MM, empty disables the digest
}

// Load reads configuration from a .env file and environment variables with
// sane defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file, using environment")
	}

	cfg := Config{
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RemoteBaseURL:    strings.TrimSpace(os.Getenv("REMOTE_BASE_URL")),
		RemoteToken:      strings.TrimSpace(os.Getenv("REMOTE_TOKEN")),
		RemotePollPeriod: parseDuration(os.Getenv("REMOTE_POLL_SECONDS"), "s"),
		TelegramToken:    strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		Workers:          parseInt(os.Getenv("WORKERS")),
		SyncInterval:     parseDuration(os.Getenv("SYNC_INTERVAL_MINUTES"), "m"),
		DigestTime:       strings.TrimSpace(os.Getenv("DIGEST_TIME")),
	}

	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); raw != "" {
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("TELEGRAM_CHAT_ID must be an integer: %w", err)
		}
		cfg.TelegramChatID = chatID
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "geoplanner.db"
	}
	if cfg.RemotePollPeriod == 0 {
		cfg.RemotePollPeriod = 15 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = 30 * time.Minute
	}

	if cfg.RemoteBaseURL != "" && cfg.RemoteToken == "" {
		return cfg, fmt.Errorf("REMOTE_TOKEN is required when REMOTE_BASE_URL is set")
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return cfg, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}

	return cfg, nil
}

func parseDuration(raw, unit string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw + unit)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

func parseInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
