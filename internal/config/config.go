// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string

	// DashboardHost is the host running the job-control service.
	DashboardHost   string
	ListingLimit    int
	ListingCapacity int
	ReconnectDelay  time.Duration
	HTTPAddr        string
	// FeedPollInterval is how often the listing change log is tailed.
	FeedPollInterval time.Duration

	APIAddr         string
	EnvFile         string
	BotDir          string
	BotCommand      []string
	BotDebugCommand []string

	// TelegramBotToken is optional; without it the operator console is off.
	TelegramBotToken   string
	AllowedUsers       []int64
	AlertChatID        int64
	StatusPollInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     envString("DATABASE_PATH", "./data/dashboard.db"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		DashboardHost:    envString("DASHBOARD_HOST", "localhost"),
		HTTPAddr:         envString("HTTP_ADDR", ":3000"),
		APIAddr:          envString("API_ADDR", ":8000"),
		EnvFile:          envString("ENV_FILE", "./.env"),
		BotDir:           envString("BOT_DIR", "."),
		BotCommand:       strings.Fields(envString("BOT_COMMAND", "python3 -u main.py")),
		BotDebugCommand:  strings.Fields(envString("BOT_DEBUG_COMMAND", "python3 -u simple_debug.py")),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.ListingLimit, err = envInt("LISTING_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.ListingCapacity, err = envInt("LISTING_CAPACITY", 2000); err != nil {
		return nil, err
	}
	if cfg.ListingCapacity < cfg.ListingLimit {
		return nil, fmt.Errorf("LISTING_CAPACITY (%d) must not be below LISTING_LIMIT (%d)", cfg.ListingCapacity, cfg.ListingLimit)
	}
	if cfg.ReconnectDelay, err = envDuration("RECONNECT_DELAY", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatusPollInterval, err = envDuration("STATUS_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.FeedPollInterval, err = envDuration("FEED_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALERT_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ALERT_CHAT_ID %q: %w", raw, err)
		}
		cfg.AlertChatID = id
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, raw)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration like 5s", key, raw)
	}
	return d, nil
}
