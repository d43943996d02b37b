package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"botdash/internal/api"
	"botdash/internal/bot"
	"botdash/internal/config"
	"botdash/internal/jobctl"
	"botdash/internal/logstream"
	"botdash/internal/model"
	"botdash/internal/reconciler"
	"botdash/internal/scheduler"
	"botdash/internal/storage"
	"botdash/internal/templates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("dashboard failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer func() { _ = store.Close() }()

	version, err := store.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Info("database ready", "path", cfg.DatabasePath, "schema_version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go store.Watch(ctx, cfg.FeedPollInterval, log)

	listings := reconciler.New(store, log)
	listings.SetLimit(cfg.ListingLimit)
	listings.SetCapacity(cfg.ListingCapacity)
	if err := listings.Start(ctx); err != nil {
		return fmt.Errorf("start listings: %w", err)
	}
	defer listings.Stop()
	unobserve := listings.Subscribe(func(s reconciler.Snapshot) {
		log.Debug("listings changed",
			"total", s.Stats.Total,
			"open", s.Stats.Open,
			"sent", s.Stats.Sent,
			"deleted", s.Stats.Deleted,
		)
	})
	defer unobserve()

	logs := logstream.New(logstream.URLForHost(cfg.DashboardHost), log)
	logs.SetReconnectDelay(cfg.ReconnectDelay)
	if err := logs.Start(ctx); err != nil {
		return fmt.Errorf("start log stream: %w", err)
	}
	defer logs.Stop()

	jobs := jobctl.New("http://"+net.JoinHostPort(cfg.DashboardHost, strconv.Itoa(logstream.Port)), &http.Client{})

	messages := templates.New(store, model.TemplateMessage)
	prompts := templates.New(store, model.TemplatePrompt)
	for _, c := range []*templates.Catalog{messages, prompts} {
		if err := c.Load(ctx); err != nil {
			return err
		}
	}

	var sender scheduler.Sender
	if cfg.TelegramBotToken != "" {
		b, err := bot.New(cfg.TelegramBotToken, bot.Deps{
			Listings: listings,
			Logs:     logs,
			Jobs:     jobs,
			Store:    store,
			Messages: messages,
			Prompts:  prompts,
		}, cfg, log)
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		sender = b
		unsubscribe := logs.Subscribe(b.AlertLog)
		defer unsubscribe()
		go b.Run(ctx)
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, operator console disabled")
	}

	sched := scheduler.New(jobs, sender, cfg.AlertChatID, log)
	sched.SetTickInterval(cfg.StatusPollInterval)
	go sched.Run(ctx)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewViewServer(api.NewViewHandler(listings, logs, store, log), log),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting dashboard", "addr", cfg.HTTPAddr, "log_stream", logs.URL())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "error", err)
	}
	log.Info("dashboard stopped")
	return nil
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
