package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rsspush/internal/bot"
	"rsspush/internal/config"
	"rsspush/internal/fanout"
	"rsspush/internal/feed"
	"rsspush/internal/fetcher"
	"rsspush/internal/scheduler"
	"rsspush/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	f := fetcher.New(http.DefaultClient, feed.New(), fetcher.NewStateTable(), log)
	f.SetTimeout(cfg.FetchTimeout)

	b, err := bot.New(cfg.TelegramBotToken, store, f, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	dispatcher := fanout.New(store, store, b, log)

	sched := scheduler.New(store, f, dispatcher, log)
	sched.SetSchedule(cfg.CheckSchedule)
	sched.SetBatchSize(cfg.BatchSize)
	sched.SetRetention(time.Duration(cfg.RetentionDays) * 24 * time.Hour)

	b.SetChecker(sched)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "schedule", cfg.CheckSchedule, "batch_size", cfg.BatchSize)

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
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
