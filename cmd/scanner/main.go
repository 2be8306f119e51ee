package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"listing_watch/internal/config"
	"listing_watch/internal/dedup"
	"listing_watch/internal/filter"
	"listing_watch/internal/marketplace"
	"listing_watch/internal/notify"
	"listing_watch/internal/scheduler"
	"listing_watch/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	client := marketplace.NewEbay(&http.Client{}, marketplace.Options{
		AppID:             cfg.EbayAppID,
		GlobalID:          cfg.EbayGlobalID,
		SiteID:            cfg.EbaySiteID,
		FindingURL:        cfg.FindingURL,
		ShoppingURL:       cfg.ShoppingURL,
		RequestsPerSecond: cfg.MarketplaceRPS,
		Timeout:           cfg.MarketplaceTimeout,
	}, log)

	channels, err := newChannels(cfg)
	if err != nil {
		log.Error("create notification channels", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(scheduler.Deps{
		Store:      store,
		Searcher:   client,
		Engine:     filter.New(client, nil, log),
		Dedup:      dedup.New(store),
		Formatter:  notify.NewFormatter(cfg.Location(), nil),
		Dispatcher: notify.NewDispatcher(log, cfg.NotifyTimeout, channels...),
	}, log)
	sched.SetTickInterval(cfg.ScanInterval)
	sched.SetWorkers(cfg.ScanWorkers)

	log.Info("starting scanner", "interval", cfg.ScanInterval, "workers", cfg.ScanWorkers, "channels", len(channels))

	sched.Run(ctx)

	log.Info("scanner stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.DatabaseURL != "" {
		log.Info("using postgres store")
		return storage.NewPostgres(ctx, cfg.DatabaseURL)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	log.Info("using sqlite store", "path", cfg.DatabasePath)
	return storage.NewSQLite(cfg.DatabasePath)
}

func newChannels(cfg *config.Config) ([]notify.Channel, error) {
	webhook, err := notify.NewWebhook(cfg.NotifyTimeout)
	if err != nil {
		return nil, err
	}
	email, err := notify.NewEmail(cfg.SMTPHost, cfg.SMTPPort, cfg.AlertFrom, cfg.NotifyTimeout)
	if err != nil {
		return nil, err
	}
	channels := []notify.Channel{webhook, email}

	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.NotifyTimeout)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	return channels, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
