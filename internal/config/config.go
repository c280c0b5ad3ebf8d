package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is loaded from the environment once at startup.
type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	// NotifyBaseURL points at the notification inbox service; empty disables
	// outbound notifications.
	NotifyBaseURL string

	// MsgTemplateDir optionally overrides the embedded message catalog.
	MsgTemplateDir string

	// CaptureMandatory selects the forced-capture rule variant.
	CaptureMandatory bool

	// GameTTL bounds how long a live record stays in Redis after its last
	// mutation. Finished games are archived to Postgres before expiry.
	GameTTL time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8080",
		CaptureMandatory: true,
		GameTTL:          24 * time.Hour,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.NotifyBaseURL = strings.TrimSpace(os.Getenv("NOTIFY_BASE_URL"))
	cfg.MsgTemplateDir = strings.TrimSpace(os.Getenv("MSG_TEMPLATE_DIR"))

	if v := strings.TrimSpace(os.Getenv("CAPTURE_MANDATORY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.CaptureMandatory = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("GAME_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.GameTTL = d
		}
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	return cfg, nil
}
