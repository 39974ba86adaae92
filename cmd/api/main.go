// Package main is the entry point for the ReviewPulse subscription API.
//
// It loads configuration, connects to Postgres, applies the schema, builds
// the HTTP server with the core chassis (middleware, routing, health checks),
// mounts the subscription handler, and starts listening. Subscription
// creation schedules an immediate first-digest trigger through the shared
// trigger store; the scheduler binary picks it up.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"reviewpulse/internal/api/handlers"
	"reviewpulse/internal/cleaning"
	"reviewpulse/internal/config"
	"reviewpulse/internal/core"
	"reviewpulse/internal/db"
	"reviewpulse/internal/external"
	"reviewpulse/internal/extract"
	"reviewpulse/internal/insights"
	"reviewpulse/internal/notifications/email"
	"reviewpulse/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("reviewpulse API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	pool, err := db.NewPool(startupCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(startupCtx, pool); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	appRepo := db.NewAppRepository(pool)
	subRepo := db.NewSubscriptionRepository(pool)
	triggerRepo := db.NewTriggerRepository(pool)

	extractor := extract.NewPlayStoreExtractor(
		&http.Client{Timeout: 30 * time.Second},
		extract.Config{Logger: logger},
	)

	renderer, err := email.NewRenderer()
	if err != nil {
		return fmt.Errorf("parsing email templates: %w", err)
	}
	notifier := email.NewNotifier(email.NotifierConfig{
		Provider: external.NewSendGridClient(
			&http.Client{Timeout: 30 * time.Second},
			external.SendGridClientConfig{
				APIKey: cfg.Email.SendGridAPIKey.Unmask(),
				Logger: logger,
			},
		),
		Renderer: renderer,
		From:     cfg.Email.FromAddress,
		FromName: cfg.Email.FromName,
		Enabled:  cfg.Email.Enabled,
		Logger:   logger,
	})

	runner := newRunner(cfg, logger, pool, extractor, notifier, appRepo, subRepo, triggerRepo)

	srv, err := core.NewServer(cfg, logger, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	subHandler := handlers.NewSubscriptionHandler(
		appRepo,
		subRepo,
		extractor,
		runner,
		notifier,
		srv.Validator,
		logger,
		cfg.Server.PublicURL,
	)
	srv.Mount("/v1", func(r chi.Router) {
		subHandler.RegisterRoutes(r)
	})

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newRunner wires the full per-batch pipeline behind the Runner. The API
// binary uses only the runner's trigger registration methods, but building
// the real pipeline keeps the two binaries' wiring identical.
func newRunner(
	cfg *config.Config,
	logger *slog.Logger,
	pool db.DBTX,
	extractor *extract.PlayStoreExtractor,
	notifier *email.Notifier,
	appRepo *db.AppRepository,
	subRepo *db.SubscriptionRepository,
	triggerRepo *db.TriggerRepository,
) *pipeline.Runner {
	llm := external.NewLLMClient(
		&http.Client{Timeout: cfg.LLM.Timeout},
		external.LLMClientConfig{
			APIKey:  cfg.LLM.APIKey.Unmask(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		},
	)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Batches:   db.NewBatchRepository(pool),
		Artifacts: db.NewArtifactRepository(pool),
		Extractor: extractor,
		Cleaner:   cleaning.New(cleaning.DefaultDuplicateThreshold, cfg.Pipeline.SamplesPerRating),
		Themes:    insights.NewThemeEngine(llm, logger),
		Synth:     insights.NewDigestSynthesizer(llm, logger),
		Notifier:  notifier,
	}, cfg.Pipeline.StaleProcessingAfter, logger)

	return pipeline.NewRunner(
		orchestrator,
		subRepo,
		appRepo,
		triggerRepo,
		pipeline.RunnerConfig{
			GracePeriod:   cfg.Scheduler.GracePeriod,
			PublicBaseURL: cfg.Server.PublicURL,
		},
		logger,
	)
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
