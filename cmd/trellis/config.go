package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all trellis server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr       string   `json:"listen_addr"`
	LogLevel         string   `json:"log_level"`
	CORSOrigins      []string `json:"cors_origins"`
	WebhookInboxSize int      `json:"webhook_inbox_size"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:       ":8080",
		LogLevel:         "info",
		CORSOrigins:      []string{"http://localhost:3003"},
		WebhookInboxSize: 100,
	}
}

func trellisDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trellis"
	}
	return filepath.Join(home, ".trellis")
}

func settingsPath() string {
	return filepath.Join(trellisDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("TRELLIS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TRELLIS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRELLIS_CORS_ORIGIN"); v != "" {
		cfg.CORSOrigins = []string{v}
	}
	if v := os.Getenv("TRELLIS_WEBHOOK_INBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WebhookInboxSize = n
		}
	}

	return cfg
}
