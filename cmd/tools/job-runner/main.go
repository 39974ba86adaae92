// Package main implements the job-runner CLI tool for invoking digest runs
// directly, bypassing the scheduler loop.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It wires the same pipeline the scheduler uses and
// invokes it once, synchronously.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=weekly
//	go run ./cmd/tools/job-runner --job=weekly --reference-time=2026-08-24T08:00:00+05:30
//	go run ./cmd/tools/job-runner --job=immediate --subscription-id=<uuid>
//	go run ./cmd/tools/job-runner --dry-run --job=weekly
//
// The tool reads DATABASE_URL and the rest of the service configuration from
// environment variables (or a .env file via godotenv). In --dry-run mode it
// prints the targets the run would process without executing. Because every
// run goes through the batch ledger, re-running a week that already produced
// a digest is a no-op (counted as skipped).
//
// Exit status is non-zero when any subscription failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reviewpulse/internal/cleaning"
	"reviewpulse/internal/clock"
	"reviewpulse/internal/config"
	"reviewpulse/internal/db"
	"reviewpulse/internal/external"
	"reviewpulse/internal/extract"
	"reviewpulse/internal/insights"
	"reviewpulse/internal/notifications/email"
	"reviewpulse/internal/pipeline"
	"reviewpulse/internal/types"
)

func main() {
	jobFlag := flag.String("job", "", "Job to run: weekly or immediate")
	subIDFlag := flag.String("subscription-id", "", "Subscription ID (required for --job=immediate)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-08-24T08:00:00+05:30)")
	dryRunFlag := flag.Bool("dry-run", false, "Print the targets without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke digest pipeline runs directly, bypassing the scheduler loop.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *jobFlag != "weekly" && *jobFlag != "immediate" {
		fmt.Fprintf(os.Stderr, "error: --job must be weekly or immediate\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *jobFlag == "immediate" && *subIDFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --subscription-id is required for --job=immediate\n")
		os.Exit(1)
	}

	ref := time.Now()
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-08-24T08:00:00+05:30\n")
			os.Exit(1)
		}
		ref = t
	}

	summary, err := run(*jobFlag, *subIDFlag, ref, *dryRunFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	os.Exit(summary.ExitCode())
}

func run(job, subID string, ref time.Time, dryRun bool) (types.RunSummary, error) {
	var summary types.RunSummary

	cfg, err := config.Load()
	if err != nil {
		return summary, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return summary, fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	subRepo := db.NewSubscriptionRepository(pool)
	appRepo := db.NewAppRepository(pool)

	if dryRun {
		return summary, printTargets(ctx, job, subID, ref, subRepo, appRepo)
	}

	runner := buildRunner(cfg, logger, pool, subRepo, appRepo)

	switch job {
	case "weekly":
		summary = runner.RunWeekly(ctx, ref)
	case "immediate":
		summary = runner.RunImmediate(ctx, subID, ref)
	}

	fmt.Printf("processed=%d skipped=%d failed=%d\n",
		summary.Processed, summary.Skipped, summary.Failed)
	return summary, nil
}

// printTargets lists the subscriptions and week window a run would cover.
func printTargets(
	ctx context.Context,
	job, subID string,
	ref time.Time,
	subRepo *db.SubscriptionRepository,
	appRepo *db.AppRepository,
) error {
	window := clock.WeekWindow(ref)
	fmt.Printf("week window: %s .. %s (business time)\n",
		window.Start.Format("2006-01-02"), window.WeekEndDate().Format("2006-01-02"))

	var subs []types.Subscription
	switch job {
	case "weekly":
		list, err := subRepo.ListActive(ctx)
		if err != nil {
			return err
		}
		subs = list
	case "immediate":
		sub, err := subRepo.Get(ctx, subID)
		if err != nil {
			return err
		}
		if !sub.Active {
			fmt.Printf("subscription %s is inactive; run would skip it\n", subID)
			return nil
		}
		subs = []types.Subscription{*sub}
	}

	for _, sub := range subs {
		app, err := appRepo.Get(ctx, sub.AppID)
		if err != nil {
			return err
		}
		fmt.Printf("  %s  %s  ->  %s\n", sub.ID, app.StoreID, sub.Email)
	}
	fmt.Printf("%d target(s)\n", len(subs))
	return nil
}

// buildRunner wires the same pipeline the scheduler binary runs. Trigger
// registration is not used here; the in-flight run is invoked directly.
func buildRunner(
	cfg *config.Config,
	logger *slog.Logger,
	pool db.DBTX,
	subRepo *db.SubscriptionRepository,
	appRepo *db.AppRepository,
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
		subRepo,
		appRepo,
		db.NewTriggerRepository(pool),
		pipeline.RunnerConfig{
			GracePeriod:   cfg.Scheduler.GracePeriod,
			PublicBaseURL: cfg.Server.PublicURL,
		},
		logger,
	)
}
