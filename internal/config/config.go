package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr     string
	PushListenAddr string

	RedisURL    string
	DatabaseURL string

	AuthBaseURL      string
	AntiCheatBaseURL string
	NotifyWebhookURL string
	TrackWebhookURL  string

	BattleTTL       time.Duration
	RetentionWindow time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int
	TurnRetryMax    int
	TemplateDir     string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		PushListenAddr:  ":8081",
		BattleTTL:       24 * time.Hour,
		RetentionWindow: 7 * 24 * time.Hour,
		SweepInterval:   time.Hour,
		SweepBatchSize:  100,
		TurnRetryMax:    3,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.AuthBaseURL = strings.TrimSpace(os.Getenv("AUTH_BASE_URL"))
	cfg.AntiCheatBaseURL = strings.TrimSpace(os.Getenv("ANTICHEAT_BASE_URL"))
	cfg.NotifyWebhookURL = strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))
	cfg.TrackWebhookURL = strings.TrimSpace(os.Getenv("TRACK_WEBHOOK_URL"))
	cfg.TemplateDir = strings.TrimSpace(os.Getenv("TEMPLATE_DIR"))

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("PUSH_LISTEN_ADDR")); v != "" {
		cfg.PushListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("BATTLE_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.BattleTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("RETENTION_WINDOW")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RetentionWindow = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepBatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TURN_RETRY_MAX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TurnRetryMax = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
