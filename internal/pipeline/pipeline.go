// Package pipeline orchestrates the weekly digest flow: claim the idempotent
// batch for (app, week), extract and clean reviews, summarize into themes,
// synthesize the digest, persist artifacts, and deliver. The batch ledger's
// uniqueness constraint is the mutual-exclusion boundary, so correctness
// holds across processes sharing the same store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/notifications/email"
	"reviewpulse/internal/types"
)

// Consumer-side contracts. Production wiring uses internal/db, extract,
// cleaning, insights, and notifications/email; tests use hand-rolled mocks.

// BatchStore is the weekly batch ledger.
type BatchStore interface {
	GetOrCreate(ctx context.Context, appID string, weekStart, weekEnd time.Time) (*types.Batch, error)
	Claim(ctx context.Context, batchID string, staleBefore time.Time) (bool, error)
	ReclaimWithoutDigest(ctx context.Context, batchID string) (bool, error)
	SetStatus(ctx context.Context, batchID string, status types.BatchStatus, errorReason string) error
	CloseWithoutDigest(ctx context.Context, batchID string) error
	HasDigest(ctx context.Context, batchID string) (bool, error)
}

// ArtifactStore persists pipeline outputs for a batch.
type ArtifactStore interface {
	SaveFeedbackItems(ctx context.Context, batchID string, items []types.FeedbackItem) (int, error)
	SaveThemes(ctx context.Context, batchID string, themes []types.Theme) error
	SavePulseNote(ctx context.Context, batchID string, digest types.Digest) error
	SaveRawSnapshot(ctx context.Context, batchID string, items []types.FeedbackItem) error
}

// Extractor fetches reviews for an app over a week window.
type Extractor interface {
	Extract(ctx context.Context, storeID string, window clock.Window) ([]types.FeedbackItem, error)
}

// Cleaner normalizes extracted reviews. Deterministic; no failure path
// beyond malformed input, which it drops.
type Cleaner interface {
	Process(items []types.FeedbackItem) []types.FeedbackItem
}

// ThemeEngine identifies themes in a cleaned week of reviews.
type ThemeEngine interface {
	IdentifyThemes(ctx context.Context, items []types.FeedbackItem) ([]types.Theme, error)
}

// Synthesizer condenses themes into the weekly digest.
type Synthesizer interface {
	Synthesize(ctx context.Context, appName string, themes []types.Theme) (types.Digest, error)
}

// Notifier delivers a digest to recipients, reporting per-recipient counts.
type Notifier interface {
	DeliverDigest(ctx context.Context, appName string, window clock.Window, digest types.Digest, recipients []email.Recipient) (types.DeliveryResult, error)
}

// Outcome classifies one orchestration attempt for run summaries.
type Outcome int

const (
	// OutcomeProcessed: this run took the batch to processed.
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped: nothing to do (already processed, held by another
	// run, or a week with no reviews).
	OutcomeSkipped
	// OutcomeFailed: a stage failed and the batch was marked failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Batches   BatchStore
	Artifacts ArtifactStore
	Extractor Extractor
	Cleaner   Cleaner
	Themes    ThemeEngine
	Synth     Synthesizer
	Notifier  Notifier
}

// Orchestrator runs the per-batch pipeline.
type Orchestrator struct {
	deps Deps

	// staleProcessingAfter is how long a batch may sit in 'processing'
	// before a later run treats it as abandoned and reclaims it.
	staleProcessingAfter time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewOrchestrator creates an Orchestrator. A nil logger falls back to
// slog.Default(); a non-positive staleProcessingAfter defaults to 6 hours.
func NewOrchestrator(deps Deps, staleProcessingAfter time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if staleProcessingAfter <= 0 {
		staleProcessingAfter = 6 * time.Hour
	}
	return &Orchestrator{
		deps:                 deps,
		staleProcessingAfter: staleProcessingAfter,
		logger:               logger,
		now:                  time.Now,
	}
}

// WithNowFunc overrides the time source, for tests.
func (o *Orchestrator) WithNowFunc(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// ProcessWeek runs the full pipeline for one app and week window, delivering
// to the given recipients.
//
// The batch row is obtained or created atomically; an already-processed batch
// with its digest artifact short-circuits as a successful no-op. Claiming is
// an atomic compare-and-set, so of two racing runs exactly one proceeds and
// the loser reports skipped. Delivery failure after successful synthesis
// leaves the batch processed; digest correctness and delivery are independent
// concerns.
func (o *Orchestrator) ProcessWeek(ctx context.Context, app *types.App, window clock.Window, recipients []email.Recipient) (Outcome, error) {
	log := o.logger.With(
		"app_id", app.ID,
		"store_id", app.StoreID,
		"week_start", window.Start.Format("2006-01-02"),
	)

	batch, err := o.deps.Batches.GetOrCreate(ctx, app.ID, window.Start, window.WeekEndDate())
	if err != nil {
		return OutcomeFailed, fmt.Errorf("obtaining weekly batch: %w", err)
	}
	log = log.With("batch_id", batch.ID)

	claimed, err := o.claim(ctx, batch)
	if err != nil {
		return OutcomeFailed, err
	}
	if !claimed {
		log.InfoContext(ctx, "batch not claimable, skipping", "status", string(batch.Status))
		return OutcomeSkipped, nil
	}

	items, err := o.deps.Extractor.Extract(ctx, app.StoreID, window)
	if err != nil {
		return o.fail(ctx, log, batch.ID, "extract", err)
	}
	for i := range items {
		items[i].AppID = app.ID
	}

	cleaned := o.deps.Cleaner.Process(items)
	log.InfoContext(ctx, "cleaned reviews", "extracted", len(items), "kept", len(cleaned))

	if len(cleaned) == 0 {
		// A quiet week is a successful outcome, not a failure; there is
		// simply no digest to produce. The close records that the missing
		// pulse note is deliberate, so later runs short-circuit instead of
		// treating the batch as a crash remnant.
		if err := o.deps.Batches.CloseWithoutDigest(ctx, batch.ID); err != nil {
			return OutcomeFailed, fmt.Errorf("closing empty batch: %w", err)
		}
		log.InfoContext(ctx, "no reviews in window, batch closed without digest")
		return OutcomeSkipped, nil
	}

	// Snapshot the cleaned input for reprocessing without re-scraping.
	// Best-effort: losing the snapshot never fails the batch.
	if err := o.deps.Artifacts.SaveRawSnapshot(ctx, batch.ID, cleaned); err != nil {
		log.WarnContext(ctx, "failed to save raw snapshot", "error", err)
	}
	if _, err := o.deps.Artifacts.SaveFeedbackItems(ctx, batch.ID, cleaned); err != nil {
		log.WarnContext(ctx, "failed to save feedback items", "error", err)
	}

	themes, err := o.deps.Themes.IdentifyThemes(ctx, cleaned)
	if err != nil {
		return o.fail(ctx, log, batch.ID, "summarize", err)
	}

	digest, err := o.deps.Synth.Synthesize(ctx, app.Name, themes)
	if err != nil {
		return o.fail(ctx, log, batch.ID, "synthesize", err)
	}

	if err := o.deps.Artifacts.SaveThemes(ctx, batch.ID, themes); err != nil {
		return o.fail(ctx, log, batch.ID, "persist_themes", err)
	}
	if err := o.deps.Artifacts.SavePulseNote(ctx, batch.ID, digest); err != nil {
		return o.fail(ctx, log, batch.ID, "persist_digest", err)
	}

	if err := o.deps.Batches.SetStatus(ctx, batch.ID, types.BatchProcessed, ""); err != nil {
		return OutcomeFailed, fmt.Errorf("marking batch processed: %w", err)
	}

	result, err := o.deps.Notifier.DeliverDigest(ctx, app.Name, window, digest, recipients)
	if err != nil {
		// The analysis artifact is valid and reusable; the batch stays
		// processed and the delivery failure is reported as a warning.
		log.WarnContext(ctx, "digest delivery failed after synthesis",
			"sent", result.Sent,
			"failed", result.Failed,
			"error", err,
		)
	} else {
		log.InfoContext(ctx, "batch processed",
			"themes", len(themes),
			"digest_words", digest.WordCount,
			"sent", result.Sent,
			"delivery_failed", result.Failed,
		)
	}

	return OutcomeProcessed, nil
}

// claim moves the batch into 'processing' for this run. Handles the three
// claimable shapes: fresh or retryable batches, stale 'processing' rows
// abandoned by a crash, and the rare 'processed' row whose digest artifact
// never landed. A processed batch deliberately closed without a digest (a
// quiet week) is final and never reclaimed.
func (o *Orchestrator) claim(ctx context.Context, batch *types.Batch) (bool, error) {
	if batch.Status == types.BatchProcessed {
		if batch.DigestSkipped {
			return false, nil
		}
		hasDigest, err := o.deps.Batches.HasDigest(ctx, batch.ID)
		if err != nil {
			return false, fmt.Errorf("checking digest existence: %w", err)
		}
		if hasDigest {
			return false, nil
		}
		claimed, err := o.deps.Batches.ReclaimWithoutDigest(ctx, batch.ID)
		if err != nil {
			return false, fmt.Errorf("reclaiming batch without digest: %w", err)
		}
		return claimed, nil
	}

	staleBefore := o.now().Add(-o.staleProcessingAfter)
	claimed, err := o.deps.Batches.Claim(ctx, batch.ID, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claiming batch: %w", err)
	}
	return claimed, nil
}

// fail marks the batch failed with the stage and reason, then reports the
// stage error to the caller. A failed batch is retryable by a later run.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, batchID, stage string, stageErr error) (Outcome, error) {
	reason := fmt.Sprintf("%s: %v", stage, stageErr)
	if err := o.deps.Batches.SetStatus(ctx, batchID, types.BatchFailed, reason); err != nil {
		log.ErrorContext(ctx, "failed to mark batch failed", "stage", stage, "error", err)
	}
	log.ErrorContext(ctx, "pipeline stage failed", "stage", stage, "error", stageErr)
	return OutcomeFailed, fmt.Errorf("%s: %w", stage, stageErr)
}
