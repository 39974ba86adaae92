// Package main is the entry point for the ReviewPulse scheduler.
//
// The scheduler owns the firing loop: it polls the Postgres-backed trigger
// store for due triggers, dispatches the weekly digest run and one-shot
// first-digest jobs to the pipeline, and acknowledges each firing so that
// recurring triggers re-arm. On startup it registers (or refreshes) the
// weekly recurrence so a fresh deployment needs no manual seeding.
//
// Firings are idempotent end to end: the batch ledger's atomic claim makes
// it safe for a missed occurrence to fire late, for a crashed firing to be
// rediscovered on the next poll, and for overlapping deployments to race.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM);
// in-flight firings are drained before exit.
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

	"reviewpulse/internal/cleaning"
	"reviewpulse/internal/config"
	"reviewpulse/internal/db"
	"reviewpulse/internal/external"
	"reviewpulse/internal/extract"
	"reviewpulse/internal/insights"
	"reviewpulse/internal/jobstore"
	"reviewpulse/internal/notifications/email"
	"reviewpulse/internal/pipeline"
	"reviewpulse/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("reviewpulse scheduler starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"poll_interval", cfg.Scheduler.PollInterval.String(),
		"workers", cfg.Scheduler.Workers,
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

	triggerRepo := db.NewTriggerRepository(pool)
	runner := buildRunner(cfg, logger, pool, triggerRepo)

	sched := scheduler.New(triggerRepo, scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		Workers:      cfg.Scheduler.Workers,
		GracePeriod:  cfg.Scheduler.GracePeriod,
		SkipAfter:    cfg.Scheduler.SkipAfter,
	}, nil, logger)

	sched.Register(jobstore.WeeklyDigestKey, func(ctx context.Context, rec jobstore.TriggerRecord) error {
		summary := runner.RunWeekly(ctx, rec.NextFire)
		logger.InfoContext(ctx, "weekly digest run complete",
			"processed", summary.Processed,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
		)
		if summary.Failed > 0 {
			return fmt.Errorf("%d subscription(s) failed", summary.Failed)
		}
		return nil
	})

	sched.RegisterPrefix(jobstore.ImmediateKeyPrefix, func(ctx context.Context, rec jobstore.TriggerRecord) error {
		summary := runner.RunImmediate(ctx, rec.Payload, rec.NextFire)
		logger.InfoContext(ctx, "immediate digest run complete",
			"subscription_id", rec.Payload,
			"processed", summary.Processed,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
		)
		if summary.Failed > 0 {
			return fmt.Errorf("first digest failed for subscription %s", rec.Payload)
		}
		return nil
	})

	// Idempotent: an armed recurrence keeps its earlier next fire, so a
	// restart cannot swallow an occurrence missed while the process was down.
	if err := runner.ScheduleWeeklyDigest(startupCtx); err != nil {
		return fmt.Errorf("registering weekly trigger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("scheduler loop running")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("scheduler loop: %w", err)
	}

	logger.Info("draining in-flight firings")
	sched.Wait()
	logger.Info("scheduler stopped cleanly")
	return nil
}

// buildRunner wires the per-batch pipeline and its subscription iterator.
func buildRunner(
	cfg *config.Config,
	logger *slog.Logger,
	pool db.DBTX,
	triggerRepo *db.TriggerRepository,
) *pipeline.Runner {
	extractor := extract.NewPlayStoreExtractor(
		&http.Client{Timeout: 30 * time.Second},
		extract.Config{Logger: logger},
	)

	llm := external.NewLLMClient(
		&http.Client{Timeout: cfg.LLM.Timeout},
		external.LLMClientConfig{
			APIKey:  cfg.LLM.APIKey.Unmask(),
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		},
	)

	renderer, err := email.NewRenderer()
	if err != nil {
		// Templates are embedded; a parse failure is a build defect.
		panic(fmt.Sprintf("parsing email templates: %v", err))
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
		db.NewSubscriptionRepository(pool),
		db.NewAppRepository(pool),
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
