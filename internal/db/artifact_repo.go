package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/gzip"

	"reviewpulse/internal/types"
)

// ArtifactRepository persists the pipeline's durable outputs for a batch:
// deduplicated feedback items, theme summaries, the pulse note, and the
// compressed snapshot of the cleaned extraction input. All writes are
// idempotent so a retried batch can rewrite its artifacts safely.
type ArtifactRepository struct {
	db DBTX
}

// NewArtifactRepository creates a new ArtifactRepository.
func NewArtifactRepository(db DBTX) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// SaveFeedbackItems stores extracted reviews for a batch. Items whose content
// hash was already stored (from an overlapping earlier extraction) are
// silently skipped. Returns the number of newly inserted rows.
func (r *ArtifactRepository) SaveFeedbackItems(ctx context.Context, batchID string, items []types.FeedbackItem) (int, error) {
	inserted := 0
	for _, item := range items {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO feedback_items (app_id, batch_id, rating, title, body, review_date, review_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (review_hash) DO NOTHING`,
			item.AppID, batchID, item.Rating, item.Title, item.Text, item.Date, item.Hash,
		)
		if err != nil {
			return inserted, types.NewAppError(types.ErrCodeInternalDB, "failed to insert feedback item", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// SaveThemes replaces the theme summaries for a batch. A retried batch
// rewrites the full set rather than appending to a stale one.
func (r *ArtifactRepository) SaveThemes(ctx context.Context, batchID string, themes []types.Theme) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM theme_summaries WHERE batch_id = $1`, batchID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear theme summaries", err)
	}
	for _, theme := range themes {
		keyPoints, err := json.Marshal(theme.KeyPoints)
		if err != nil {
			return fmt.Errorf("marshaling theme key points: %w", err)
		}
		quotes, err := json.Marshal(theme.Quotes)
		if err != nil {
			return fmt.Errorf("marshaling theme quotes: %w", err)
		}
		if _, err := r.db.Exec(ctx,
			`INSERT INTO theme_summaries (batch_id, name, key_points, quotes)
			 VALUES ($1, $2, $3, $4)`,
			batchID, theme.Name, keyPoints, quotes,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert theme summary", err)
		}
	}
	return nil
}

// SavePulseNote stores the synthesized digest for a batch. At most one note
// exists per batch; a retried batch overwrites its previous note.
func (r *ArtifactRepository) SavePulseNote(ctx context.Context, batchID string, digest types.Digest) error {
	themes, err := json.Marshal(digest.Themes)
	if err != nil {
		return fmt.Errorf("marshaling digest themes: %w", err)
	}
	quotes, err := json.Marshal(digest.Quotes)
	if err != nil {
		return fmt.Errorf("marshaling digest quotes: %w", err)
	}
	actions, err := json.Marshal(digest.Actions)
	if err != nil {
		return fmt.Errorf("marshaling digest actions: %w", err)
	}

	if _, err := r.db.Exec(ctx,
		`INSERT INTO pulse_notes (batch_id, title, overview, themes, quotes, actions, word_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (batch_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   overview = EXCLUDED.overview,
		   themes = EXCLUDED.themes,
		   quotes = EXCLUDED.quotes,
		   actions = EXCLUDED.actions,
		   word_count = EXCLUDED.word_count`,
		batchID, digest.Title, digest.Overview, themes, quotes, actions, digest.WordCount,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save pulse note", err)
	}
	return nil
}

// GetPulseNote loads the stored digest for a batch.
func (r *ArtifactRepository) GetPulseNote(ctx context.Context, batchID string) (*types.Digest, error) {
	var (
		digest  types.Digest
		themes  []byte
		quotes  []byte
		actions []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT title, overview, themes, quotes, actions, word_count
		 FROM pulse_notes WHERE batch_id = $1`,
		batchID,
	).Scan(&digest.Title, &digest.Overview, &themes, &quotes, &actions, &digest.WordCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBatch, "no pulse note for batch", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load pulse note", err)
	}
	if err := json.Unmarshal(themes, &digest.Themes); err != nil {
		return nil, fmt.Errorf("unmarshaling digest themes: %w", err)
	}
	if err := json.Unmarshal(quotes, &digest.Quotes); err != nil {
		return nil, fmt.Errorf("unmarshaling digest quotes: %w", err)
	}
	if err := json.Unmarshal(actions, &digest.Actions); err != nil {
		return nil, fmt.Errorf("unmarshaling digest actions: %w", err)
	}
	return &digest, nil
}

// SaveRawSnapshot stores the cleaned extraction input as gzip-compressed
// JSONL keyed by batch. The snapshot allows reprocessing a week without
// re-scraping the store.
func (r *ArtifactRepository) SaveRawSnapshot(ctx context.Context, batchID string, items []types.FeedbackItem) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			zw.Close()
			return fmt.Errorf("encoding snapshot item: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing snapshot stream: %w", err)
	}

	if _, err := r.db.Exec(ctx,
		`INSERT INTO raw_snapshots (batch_id, payload, item_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (batch_id) DO UPDATE SET
		   payload = EXCLUDED.payload,
		   item_count = EXCLUDED.item_count`,
		batchID, buf.Bytes(), len(items),
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save raw snapshot", err)
	}
	return nil
}

// LoadRawSnapshot decompresses and decodes the stored snapshot for a batch.
func (r *ArtifactRepository) LoadRawSnapshot(ctx context.Context, batchID string) ([]types.FeedbackItem, error) {
	var payload []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload FROM raw_snapshots WHERE batch_id = $1`,
		batchID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBatch, "no snapshot for batch", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load raw snapshot", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot stream: %w", err)
	}
	defer zr.Close()

	var items []types.FeedbackItem
	dec := json.NewDecoder(zr)
	for dec.More() {
		var item types.FeedbackItem
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("decoding snapshot item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}
