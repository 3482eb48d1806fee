package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"club-segment-sync/internal/config"
	"club-segment-sync/internal/database"
	"club-segment-sync/internal/handlers"
	"club-segment-sync/internal/ingest"
	"club-segment-sync/internal/leaderboard"
	"club-segment-sync/internal/metrics"
	"club-segment-sync/internal/middleware"
	"club-segment-sync/internal/oauth"
	"club-segment-sync/internal/strava"
	"club-segment-sync/internal/token"
	"club-segment-sync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting club-segment-sync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	stravaClient := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, cfg.UpstreamTimeout())
	tokenManager := token.NewManager(db, stravaClient, cfg.TokenRefreshMargin())
	pipeline := ingest.NewPipeline(db, stravaClient, tokenManager, cfg.PollPageSize)
	projector := leaderboard.NewProjector(db)
	oauthManager := oauth.NewManager(cfg, db, stravaClient)

	oauthHandler := handlers.NewOAuthHandler(oauthManager, cfg)
	webhookHandler := handlers.NewWebhookHandler(pipeline, cfg)
	pollHandler := handlers.NewPollHandler(db, cfg.AdminKeySet())
	leaderboardHandler := handlers.NewLeaderboardHandler(db, projector)
	healthHandler := handlers.NewHealthHandler(db)

	r := chi.NewRouter()

	r.With(middleware.Metrics(metrics.EndpointOAuthStart)).Get("/oauth-start", oauthHandler.HandleAuthStart)
	r.With(middleware.Metrics(metrics.EndpointOAuthCallback)).Get("/oauth-callback", oauthHandler.HandleCallback)

	// Strava sends the handshake GET to the same callback URL as events
	r.With(middleware.Metrics(metrics.EndpointIngestVerify)).Get("/ingest/verify", webhookHandler.HandleVerification)
	r.With(middleware.Metrics(metrics.EndpointIngestVerify)).Get("/ingest/event", webhookHandler.HandleVerification)
	r.With(middleware.Metrics(metrics.EndpointIngestEvent)).Post("/ingest/event", webhookHandler.HandleEvent)
	r.With(middleware.Metrics(metrics.EndpointIngestPoll)).Post("/ingest/poll", pollHandler.HandlePoll)

	r.With(middleware.Metrics(metrics.EndpointLeaderboard)).Get("/leaderboard/{segmentID}", leaderboardHandler.HandleGet)

	r.With(middleware.Metrics(metrics.EndpointHealth)).Get("/health", healthHandler.HandleHealth)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start poll worker in background
	workerInstance := worker.NewWorker(db, pipeline)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		if err := workerInstance.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Poll worker failed", "error", err)
		}
	}()

	// Start queue depth collector if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting queue depth collector")
			metrics.StartQueueDepthCollector(workerCtx, db, 15*time.Second)
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
