package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/jobstore"
	"reviewpulse/internal/notifications/email"
	"reviewpulse/internal/types"
)

// SubscriptionStore is the read side of the subscription registry.
type SubscriptionStore interface {
	ListActive(ctx context.Context) ([]types.Subscription, error)
	Get(ctx context.Context, id string) (*types.Subscription, error)
}

// AppStore resolves tracked applications.
type AppStore interface {
	Get(ctx context.Context, id string) (*types.App, error)
}

// BatchProcessor is the single-batch pipeline the runner drives. Satisfied
// by *Orchestrator; narrowed to an interface so runner tests can stub it.
type BatchProcessor interface {
	ProcessWeek(ctx context.Context, app *types.App, window clock.Window, recipients []email.Recipient) (Outcome, error)
}

// RunnerConfig holds the runner's scheduling parameters.
type RunnerConfig struct {
	// GracePeriod is recorded on registered triggers and governs the
	// scheduler's misfire policy for them.
	GracePeriod time.Duration

	// PublicBaseURL is the externally reachable API base used to build
	// subscription-management links in digests. Optional.
	PublicBaseURL string
}

// Runner is the subscription iterator: it enumerates targets for a trigger
// firing, runs one orchestration per subscription with failure isolation,
// and owns trigger registration for both the weekly recurrence and
// subscription-creation one-shots.
type Runner struct {
	processor BatchProcessor
	subs      SubscriptionStore
	apps      AppStore
	store     jobstore.Store
	cfg       RunnerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a Runner. A nil logger falls back to slog.Default().
func NewRunner(
	processor BatchProcessor,
	subs SubscriptionStore,
	apps AppStore,
	store jobstore.Store,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Minute
	}
	return &Runner{
		processor: processor,
		subs:      subs,
		apps:      apps,
		store:     store,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNowFunc overrides the time source, for tests.
func (r *Runner) WithNowFunc(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunWeekly processes the most recently settled week for every active
// subscription as of ref. Each subscription is one orchestration target; a
// failure on one is recorded and never aborts the others.
func (r *Runner) RunWeekly(ctx context.Context, ref time.Time) types.RunSummary {
	window := clock.WeekWindow(ref)
	r.logger.InfoContext(ctx, "weekly run starting",
		"week_start", window.Start.Format("2006-01-02"),
		"week_end", window.WeekEndDate().Format("2006-01-02"),
	)

	var summary types.RunSummary

	subs, err := r.subs.ListActive(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list active subscriptions", "error", err)
		summary.Failed++
		return summary
	}

	for _, sub := range subs {
		summary.Add(r.runOne(ctx, sub, window))
	}

	r.logger.InfoContext(ctx, "weekly run finished",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary
}

// RunImmediate processes the settled week for a single subscription,
// typically right after it was created. Inactive or missing subscriptions
// are skipped.
func (r *Runner) RunImmediate(ctx context.Context, subscriptionID string, ref time.Time) types.RunSummary {
	var summary types.RunSummary

	sub, err := r.subs.Get(ctx, subscriptionID)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to load subscription for immediate run",
			"subscription_id", subscriptionID,
			"error", err,
		)
		summary.Failed++
		return summary
	}
	if !sub.Active {
		r.logger.InfoContext(ctx, "subscription inactive, skipping immediate run",
			"subscription_id", subscriptionID)
		summary.Skipped++
		return summary
	}

	summary.Add(r.runOne(ctx, *sub, clock.WeekWindow(ref)))
	return summary
}

// RunWeeklyNow is the synchronous manual trigger for operational use.
func (r *Runner) RunWeeklyNow(ctx context.Context) types.RunSummary {
	return r.RunWeekly(ctx, r.now())
}

// runOne orchestrates a single subscription target and maps its outcome into
// a summary. Errors are fully handled here; this is the failure-isolation
// boundary.
func (r *Runner) runOne(ctx context.Context, sub types.Subscription, window clock.Window) types.RunSummary {
	var summary types.RunSummary

	app, err := r.apps.Get(ctx, sub.AppID)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to resolve app for subscription",
			"subscription_id", sub.ID,
			"app_id", sub.AppID,
			"error", err,
		)
		summary.Failed++
		return summary
	}

	recipients := []email.Recipient{{
		Email:          sub.Email,
		UnsubscribeURL: r.manageURL(sub.ID),
	}}

	outcome, err := r.processor.ProcessWeek(ctx, app, window, recipients)
	if err != nil {
		r.logger.ErrorContext(ctx, "subscription orchestration failed",
			"subscription_id", sub.ID,
			"app_id", app.ID,
			"week_start", window.Start.Format("2006-01-02"),
			"error", err,
		)
	}

	switch outcome {
	case OutcomeProcessed:
		summary.Processed++
	case OutcomeSkipped:
		summary.Skipped++
	default:
		summary.Failed++
	}
	return summary
}

// ScheduleWeeklyDigest registers (or re-registers) the recurring weekly
// trigger. Registration is idempotent: the job store keys by trigger key and
// an armed recurrence keeps its earlier next fire, so calling this on every
// startup is safe.
func (r *Runner) ScheduleWeeklyDigest(ctx context.Context) error {
	now := r.now()
	rec := jobstore.TriggerRecord{
		Key:         jobstore.WeeklyDigestKey,
		Kind:        jobstore.KindRecurring,
		CronSpec:    clock.WeeklyCronSpec,
		NextFire:    clock.NextWeeklyFire(now),
		GracePeriod: r.cfg.GracePeriod,
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("registering weekly trigger: %w", err)
	}
	r.logger.InfoContext(ctx, "weekly digest trigger registered",
		"next_fire", rec.NextFire.Format(time.RFC3339))
	return nil
}

// ScheduleImmediate registers a one-shot trigger that analyzes the settled
// week for a new subscription as soon as a worker is free. Re-registering
// for the same subscription replaces the pending trigger.
func (r *Runner) ScheduleImmediate(ctx context.Context, subscriptionID string) error {
	rec := jobstore.TriggerRecord{
		Key:         jobstore.ImmediateKey(subscriptionID),
		Kind:        jobstore.KindOneShot,
		NextFire:    r.now().UTC(),
		GracePeriod: r.cfg.GracePeriod,
		Payload:     subscriptionID,
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("registering immediate trigger for %s: %w", subscriptionID, err)
	}
	r.logger.InfoContext(ctx, "immediate analysis trigger registered",
		"subscription_id", subscriptionID)
	return nil
}

// CancelImmediate removes a pending one-shot for a subscription, called when
// the subscription is deactivated before its immediate run fired.
func (r *Runner) CancelImmediate(ctx context.Context, subscriptionID string) error {
	return r.store.Remove(ctx, jobstore.ImmediateKey(subscriptionID))
}

// manageURL builds the subscription-management link embedded in digests.
func (r *Runner) manageURL(subscriptionID string) string {
	if r.cfg.PublicBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/v1/subscriptions/%s", r.cfg.PublicBaseURL, subscriptionID)
}
