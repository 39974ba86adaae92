package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"reviewpulse/internal/types"
)

// AppRepository manages tracked Play Store applications.
type AppRepository struct {
	db DBTX
}

// NewAppRepository creates a new AppRepository backed by the given database
// connection (pool or transaction).
func NewAppRepository(db DBTX) *AppRepository {
	return &AppRepository{db: db}
}

const appColumns = `id, store_id, name, url, created_at`

func scanApp(row pgx.Row) (*types.App, error) {
	var a types.App
	if err := row.Scan(&a.ID, &a.StoreID, &a.Name, &a.URL, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetOrCreate returns the app row for storeID, inserting it if absent.
// Subscribing twice to the same application converges on a single row.
func (r *AppRepository) GetOrCreate(ctx context.Context, storeID, name, url string) (*types.App, error) {
	app, err := scanApp(r.db.QueryRow(ctx,
		`INSERT INTO apps (store_id, name, url)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (store_id) DO NOTHING
		 RETURNING `+appColumns,
		storeID, name, url,
	))
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create app", err)
	}

	app, err = scanApp(r.db.QueryRow(ctx,
		`SELECT `+appColumns+` FROM apps WHERE store_id = $1`,
		storeID,
	))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load app after conflict", err)
	}
	return app, nil
}

// Get returns the app by ID.
func (r *AppRepository) Get(ctx context.Context, id string) (*types.App, error) {
	app, err := scanApp(r.db.QueryRow(ctx,
		`SELECT `+appColumns+` FROM apps WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundApp, "app not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load app", err)
	}
	return app, nil
}
