package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/user/githubrelay/internal/api"
	"github.com/user/githubrelay/internal/config"
	"github.com/user/githubrelay/internal/dispatch"
	"github.com/user/githubrelay/internal/github"
	"github.com/user/githubrelay/internal/manage"
	"github.com/user/githubrelay/internal/render"
	"github.com/user/githubrelay/internal/storage"
	"github.com/user/githubrelay/internal/telegram"
	"github.com/user/githubrelay/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init("debug", "")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting GitHub webhook relay")
	logger.Info().Str("mode", cfg.GitHub.Mode).Msg("Ingestion mode")

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	store := storage.NewSubscriptionStore(db)
	deliveries := storage.NewDeliveryLog(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	ghClient := github.NewClient(cfg.GitHub.Token)

	sink, err := telegram.NewSink(cfg.Telegram.Token, cfg.Telegram.Debug)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Telegram sink")
	}

	dispatcher := dispatch.New(store, deliveries, sink, render.NewBuilder(), dispatch.Config{
		MaxConcurrent:  cfg.Dispatch.MaxConcurrent,
		AttemptTimeout: cfg.AttemptTimeout(),
	})

	// Events from webhook or poller funnel through one channel; dispatch is
	// best-effort from the sender's perspective.
	eventsCh := make(chan *github.NormalizedEvent, 100)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go func() {
		for event := range eventsCh {
			summary, err := dispatcher.Dispatch(dispatchCtx, event)
			if err != nil {
				logger.Error().Err(err).Str("repo", event.RepoFullName()).Msg("Dispatch failed")
				continue
			}
			logger.Info().
				Str("kind", string(event.Kind)).
				Str("repo", event.RepoFullName()).
				Int("delivered", summary.Delivered).
				Int("failed", summary.Failed).
				Int("skipped", summary.Skipped).
				Msg("Event dispatched")
		}
	}()

	var poller *github.Poller
	if cfg.PollingEnabled() {
		poller = github.NewPoller(ghClient, store, eventsCh, cfg.GitHub.PollInterval)
		poller.Start()
	}

	// Prune old delivery records daily.
	cleanupTicker := time.NewTicker(24 * time.Hour)
	go func() {
		for range cleanupTicker.C {
			removed, err := deliveries.Cleanup(cfg.Dispatch.RetentionDays)
			if err != nil {
				logger.Error().Err(err).Msg("Delivery log cleanup failed")
				continue
			}
			logger.Info().Int64("removed", removed).Msg("Delivery log cleaned up")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.WebhookEnabled() {
		webhookHandler := github.NewWebhookHandler(cfg.GitHub.WebhookSecret, eventsCh)
		r.Post("/webhook/github", webhookHandler.ServeHTTP)
		logger.Info().Msg("Webhook endpoint enabled at /webhook/github")
	}

	mgmt := api.NewHandler(manage.NewService(store, ghClient), deliveries, cfg.Server.AdminToken)
	r.Mount("/api", mgmt.Routes())

	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: r,
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if poller != nil {
		poller.Stop()
	}
	cleanupTicker.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	close(eventsCh)
	stopDispatch()

	logger.Info().Msg("Shutdown complete")
}
