package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"reviewpulse/internal/types"
)

// BatchRepository manages the weekly batch ledger, the unit of idempotent
// work. The (app_id, week_start) uniqueness constraint makes GetOrCreate the
// data-layer mutual-exclusion boundary: correctness holds even when multiple
// processes share the same backing store, with no in-process lock.
type BatchRepository struct {
	db DBTX
}

// NewBatchRepository creates a new BatchRepository backed by the given
// database connection (pool or transaction).
func NewBatchRepository(db DBTX) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, app_id, week_start, week_end, status, error_reason, digest_skipped, created_at, updated_at`

func scanBatch(row pgx.Row) (*types.Batch, error) {
	var b types.Batch
	err := row.Scan(
		&b.ID,
		&b.AppID,
		&b.WeekStart,
		&b.WeekEnd,
		&b.Status,
		&b.ErrorReason,
		&b.DigestSkipped,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetOrCreate returns the batch for (appID, weekStart), inserting a pending
// row if none exists. The INSERT uses ON CONFLICT DO NOTHING so two
// concurrent callers racing on the same week both converge on the single
// existing row.
func (r *BatchRepository) GetOrCreate(ctx context.Context, appID string, weekStart, weekEnd time.Time) (*types.Batch, error) {
	batch, err := scanBatch(r.db.QueryRow(ctx,
		`INSERT INTO weekly_batches (app_id, week_start, week_end, status)
		 VALUES ($1, $2, $3, 'pending')
		 ON CONFLICT (app_id, week_start) DO NOTHING
		 RETURNING `+batchColumns,
		appID, weekStart, weekEnd,
	))
	if err == nil {
		return batch, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create weekly batch", err)
	}

	// Conflict path: the row already exists; read it.
	batch, err = scanBatch(r.db.QueryRow(ctx,
		`SELECT `+batchColumns+`
		 FROM weekly_batches
		 WHERE app_id = $1 AND week_start = $2`,
		appID, weekStart,
	))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load weekly batch after conflict", err)
	}
	return batch, nil
}

// Get returns the batch by ID.
func (r *BatchRepository) Get(ctx context.Context, batchID string) (*types.Batch, error) {
	batch, err := scanBatch(r.db.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM weekly_batches WHERE id = $1`,
		batchID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBatch, "weekly batch not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load weekly batch", err)
	}
	return batch, nil
}

// Claim atomically transitions a batch to 'processing'. Eligible source
// states are 'pending', 'failed' (retry), and 'processing' rows last touched
// before staleBefore (abandoned by a crashed run). Returns false when another
// run holds the batch or it is already processed; exactly one of two racing
// claimants wins.
func (r *BatchRepository) Claim(ctx context.Context, batchID string, staleBefore time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE weekly_batches
		 SET status = 'processing', error_reason = '', updated_at = NOW()
		 WHERE id = $1
		   AND (status IN ('pending', 'failed')
		        OR (status = 'processing' AND updated_at < $2))`,
		batchID, staleBefore,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim weekly batch", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetStatus transitions a claimed batch to a terminal state. Only the
// transitions processing -> processed and processing -> failed are accepted;
// anything else reports a batch-state invariant violation.
func (r *BatchRepository) SetStatus(ctx context.Context, batchID string, status types.BatchStatus, errorReason string) error {
	if status != types.BatchProcessed && status != types.BatchFailed {
		return types.NewAppErrorWithDetails(
			types.ErrCodeBatchStateInvalid,
			"terminal batch status must be processed or failed",
			nil,
			map[string]any{"batch_id": batchID, "status": string(status)},
		)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE weekly_batches
		 SET status = $2, error_reason = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		batchID, string(status), errorReason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update batch status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeBatchStateInvalid,
			"batch is not in processing state",
			nil,
			map[string]any{"batch_id": batchID, "attempted": string(status)},
		)
	}
	return nil
}

// CloseWithoutDigest transitions a claimed batch to 'processed' while marking
// that no pulse note will ever exist for it. Used for quiet weeks, so the
// missing artifact is not mistaken for a crashed run by ReclaimWithoutDigest.
func (r *BatchRepository) CloseWithoutDigest(ctx context.Context, batchID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE weekly_batches
		 SET status = 'processed', error_reason = '', digest_skipped = TRUE, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		batchID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to close quiet batch", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(
			types.ErrCodeBatchStateInvalid,
			"batch is not in processing state",
			nil,
			map[string]any{"batch_id": batchID, "attempted": "processed"},
		)
	}
	return nil
}

// ReclaimWithoutDigest atomically transitions a 'processed' batch back to
// 'processing' if and only if no pulse note was persisted for it and the
// batch was not deliberately closed without one (quiet week). This covers
// a prior run that updated status but crashed before writing the artifact;
// the NOT EXISTS check lives inside the UPDATE so two racing reclaimants
// cannot both win against a batch that does have its digest.
func (r *BatchRepository) ReclaimWithoutDigest(ctx context.Context, batchID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE weekly_batches
		 SET status = 'processing', error_reason = '', updated_at = NOW()
		 WHERE id = $1
		   AND status = 'processed'
		   AND digest_skipped = FALSE
		   AND NOT EXISTS (SELECT 1 FROM pulse_notes WHERE batch_id = $1)`,
		batchID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim weekly batch", err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasDigest reports whether a pulse note exists for the batch. Combined with
// the processed status this forms the orchestrator's short-circuit double
// check, tolerating a prior run that updated status but crashed before
// persisting the artifact.
func (r *BatchRepository) HasDigest(ctx context.Context, batchID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pulse_notes WHERE batch_id = $1)`,
		batchID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check digest existence", err)
	}
	return exists, nil
}
