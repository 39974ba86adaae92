package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reviewpulse/internal/jobstore"
	"reviewpulse/internal/types"
)

// TriggerRepository is the durable jobstore.Store implementation. Triggers
// live in Postgres so scheduled recurrences survive process restarts; on
// startup the scheduler simply asks for due triggers and applies its misfire
// policy instead of assuming a continuously-running process.
type TriggerRepository struct {
	db DBTX
}

// NewTriggerRepository creates a new TriggerRepository backed by the given
// database connection (pool or transaction).
func NewTriggerRepository(db DBTX) *TriggerRepository {
	return &TriggerRepository{db: db}
}

// compile-time interface check
var _ jobstore.Store = (*TriggerRepository)(nil)

// Upsert implements jobstore.Store. Re-registering an existing key replaces
// the record in place, so registration is idempotent across restarts. An
// armed recurring trigger keeps the earlier of the stored and new next_fire
// so startup registration cannot swallow a missed occurrence.
func (r *TriggerRepository) Upsert(ctx context.Context, rec jobstore.TriggerRecord) error {
	if rec.Key == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "trigger key is required", nil)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO triggers (key, kind, cron_spec, next_fire, grace_seconds, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
		   kind = EXCLUDED.kind,
		   cron_spec = EXCLUDED.cron_spec,
		   next_fire = CASE
		     WHEN triggers.kind = 'recurring' AND EXCLUDED.kind = 'recurring'
		     THEN LEAST(triggers.next_fire, EXCLUDED.next_fire)
		     ELSE EXCLUDED.next_fire
		   END,
		   grace_seconds = EXCLUDED.grace_seconds,
		   payload = EXCLUDED.payload,
		   updated_at = NOW()`,
		rec.Key,
		string(rec.Kind),
		rec.CronSpec,
		rec.NextFire.UTC(),
		int64(rec.GracePeriod/time.Second),
		rec.Payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert trigger", err)
	}
	return nil
}

// Due implements jobstore.Store.
func (r *TriggerRepository) Due(ctx context.Context, asOf time.Time) ([]jobstore.TriggerRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key, kind, cron_spec, next_fire, grace_seconds, payload, created_at, updated_at
		 FROM triggers
		 WHERE next_fire <= $1
		 ORDER BY next_fire`,
		asOf,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due triggers", err)
	}
	defer rows.Close()

	var due []jobstore.TriggerRecord
	for rows.Next() {
		rec, err := scanTrigger(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan trigger", err)
		}
		due = append(due, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating triggers", err)
	}
	return due, nil
}

// Remove implements jobstore.Store. Removing an absent key is a no-op.
func (r *TriggerRepository) Remove(ctx context.Context, key string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM triggers WHERE key = $1`, key); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to remove trigger", err)
	}
	return nil
}

// Complete implements jobstore.Store. One-shots are deleted; recurring
// triggers have next_fire advanced to the first occurrence after firedAt,
// which coalesces any missed backlog into the firing just acknowledged.
func (r *TriggerRepository) Complete(ctx context.Context, key string, firedAt time.Time) error {
	rec, err := scanTrigger(r.db.QueryRow(ctx,
		`SELECT key, kind, cron_spec, next_fire, grace_seconds, payload, created_at, updated_at
		 FROM triggers WHERE key = $1`,
		key,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Removed mid-firing (e.g. subscription deactivated); nothing to ack.
		return nil
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to load trigger for completion", err)
	}

	if rec.Kind != jobstore.KindRecurring {
		return r.Remove(ctx, key)
	}

	next, err := jobstore.NextFireFor(rec, firedAt)
	if err != nil {
		return fmt.Errorf("advancing trigger %q: %w", key, err)
	}

	if _, err := r.db.Exec(ctx,
		`UPDATE triggers SET next_fire = $2, updated_at = NOW() WHERE key = $1`,
		key, next,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to advance trigger", err)
	}
	return nil
}

// scanTrigger reads one trigger row from either pgx.Row or pgx.Rows.
func scanTrigger(row pgx.Row) (jobstore.TriggerRecord, error) {
	var (
		rec          jobstore.TriggerRecord
		kind         string
		graceSeconds int64
	)
	err := row.Scan(
		&rec.Key,
		&kind,
		&rec.CronSpec,
		&rec.NextFire,
		&graceSeconds,
		&rec.Payload,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return jobstore.TriggerRecord{}, err
	}
	rec.Kind = jobstore.TriggerKind(kind)
	rec.GracePeriod = time.Duration(graceSeconds) * time.Second
	rec.NextFire = rec.NextFire.UTC()
	return rec, nil
}
