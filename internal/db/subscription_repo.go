package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"reviewpulse/internal/types"
)

// SubscriptionRepository manages (application, recipient email) subscriptions.
// The scheduling core reads subscriptions through ListActive; mutation belongs
// to the API layer.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, app_id, email, start_date, end_date, active, created_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(
		&s.ID,
		&s.AppID,
		&s.Email,
		&s.StartDate,
		&s.EndDate,
		&s.Active,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts an active subscription. tokenHash is the bcrypt hash of the
// unsubscribe token handed to the caller exactly once.
func (r *SubscriptionRepository) Create(ctx context.Context, appID, email string, startDate time.Time, tokenHash string) (*types.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`INSERT INTO subscriptions (app_id, email, start_date, active, unsubscribe_hash)
		 VALUES ($1, $2, $3, TRUE, $4)
		 RETURNING `+subscriptionColumns,
		appID, email, startDate, tokenHash,
	))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create subscription", err)
	}
	return sub, nil
}

// Get returns the subscription by ID.
func (r *SubscriptionRepository) Get(ctx context.Context, id string) (*types.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return sub, nil
}

// GetUnsubscribeHash returns the stored bcrypt hash for token verification.
func (r *SubscriptionRepository) GetUnsubscribeHash(ctx context.Context, id string) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx,
		`SELECT unsubscribe_hash FROM subscriptions WHERE id = $1`,
		id,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription token hash", err)
	}
	return hash, nil
}

// ListActive returns all active subscriptions, oldest first, the order the
// weekly run iterates them in.
func (r *SubscriptionRepository) ListActive(ctx context.Context) ([]types.Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE active
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active subscriptions", err)
	}
	defer rows.Close()

	var subs []types.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscriptions", err)
	}
	return subs, nil
}

// Deactivate flips a subscription inactive and records the end date. The row
// is kept: deletion is a data-lifecycle concern outside the core.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id string, endDate time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET active = FALSE, end_date = $2
		 WHERE id = $1 AND active`,
		id, endDate,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found or already inactive", nil)
	}
	return nil
}
