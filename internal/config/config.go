package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken  string
	GroupChatID    int64
	DatabaseURL    string
	DigestInterval time.Duration
}

// Load reads configuration from the environment, honouring a local .env file.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		TelegramToken:  strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DigestInterval: parseInterval(strings.TrimSpace(os.Getenv("DIGEST_INTERVAL_HOURS"))),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "helpdesk.db"
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("BOT_TOKEN is required")
	}

	rawGroup := strings.TrimSpace(os.Getenv("GROUP_CHAT_ID"))
	if rawGroup == "" {
		return cfg, fmt.Errorf("GROUP_CHAT_ID is required")
	}
	groupID, err := strconv.ParseInt(rawGroup, 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("GROUP_CHAT_ID must be a chat id: %w", err)
	}
	cfg.GroupChatID = groupID

	return cfg, nil
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
