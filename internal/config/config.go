// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	EbayAppID          string
	EbayGlobalID       string
	EbaySiteID         string
	FindingURL         string
	ShoppingURL        string
	MarketplaceRPS     float64
	MarketplaceTimeout time.Duration

	DatabasePath string
	DatabaseURL  string
	LogLevel     string

	ScanInterval time.Duration
	ScanWorkers  int
	TimeZone     string

	SMTPHost         string
	SMTPPort         int
	AlertFrom        string
	NotifyTimeout    time.Duration
	TelegramBotToken string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	appID := os.Getenv("EBAY_API_ID")
	if appID == "" {
		return nil, fmt.Errorf("EBAY_API_ID is required")
	}

	cfg := &Config{
		EbayAppID:        appID,
		EbayGlobalID:     envOrDefault("EBAY_GLOBAL_ID", "EBAY-GB"),
		EbaySiteID:       envOrDefault("EBAY_SITE_ID", "3"),
		FindingURL:       os.Getenv("EBAY_FINDING_URL"),
		ShoppingURL:      os.Getenv("EBAY_SHOPPING_URL"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/listings.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		TimeZone:         envOrDefault("TIME_ZONE", "Europe/London"),
		SMTPHost:         envOrDefault("SMTP_HOST", "localhost"),
		AlertFrom:        envOrDefault("ALERT_FROM", "alert@listing-watch.local"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.MarketplaceRPS, err = floatEnv("MARKETPLACE_RPS", 2); err != nil {
		return nil, err
	}
	if cfg.MarketplaceTimeout, err = durationEnv("MARKETPLACE_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScanInterval, err = durationEnv("SCAN_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScanWorkers, err = intEnv("SCAN_WORKERS", 1); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", 25); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = durationEnv("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("SCAN_INTERVAL must be positive, got %s", cfg.ScanInterval)
	}
	if cfg.ScanWorkers < 1 {
		return nil, fmt.Errorf("SCAN_WORKERS must be at least 1, got %d", cfg.ScanWorkers)
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", cfg.TimeZone, err)
	}

	return cfg, nil
}

// Location returns the time zone alerts are rendered in. Load has already
// validated TimeZone; UTC is returned if it fails to load anyway.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
