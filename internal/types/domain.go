// Package types defines the shared domain model for the ReviewPulse service:
// apps, subscriptions, weekly batches, feedback items, digest artifacts, and
// the application error taxonomy.
package types

import "time"

// App identifies a tracked Play Store application.
type App struct {
	ID        string    `json:"id" db:"id"`
	StoreID   string    `json:"store_id" db:"store_id"` // e.g. "com.example.app"
	Name      string    `json:"name" db:"name"`
	URL       string    `json:"url" db:"url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Subscription is one (application, recipient email) pair. Subscriptions are
// owned by the API layer; the pipeline core treats them as read-only input.
type Subscription struct {
	ID        string     `json:"id" db:"id"`
	AppID     string     `json:"app_id" db:"app_id"`
	Email     string     `json:"email" db:"email"`
	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	Active    bool       `json:"active" db:"active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// BatchStatus is the state machine for a weekly batch:
//
//	pending -> processing -> {processed, failed}
//
// A failed batch is retryable: a later run re-enters the state machine via
// the atomic get-or-create and may transition it back to processing.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchProcessed  BatchStatus = "processed"
	BatchFailed     BatchStatus = "failed"
)

// Valid reports whether s is a recognized batch status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchProcessing, BatchProcessed, BatchFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Re-claiming a failed batch (failed -> processing) is permitted so that
// a later scheduled or manual run can retry the week.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchPending:
		return next == BatchProcessing
	case BatchProcessing:
		return next == BatchProcessed || next == BatchFailed
	case BatchFailed:
		return next == BatchProcessing
	case BatchProcessed:
		return false
	}
	return false
}

// Batch is the persisted unit of idempotent work: one application, one
// calendar week. At most one batch exists per (app_id, week_start); the
// backing store enforces this with a uniqueness constraint.
//
// DigestSkipped marks a batch that closed processed with deliberately no
// digest (a week with no usable reviews). It distinguishes that shape from a
// crashed run that reached processed but never persisted its pulse note,
// which stays reclaimable.
type Batch struct {
	ID            string      `json:"id" db:"id"`
	AppID         string      `json:"app_id" db:"app_id"`
	WeekStart     time.Time   `json:"week_start" db:"week_start"` // date, Monday
	WeekEnd       time.Time   `json:"week_end" db:"week_end"`     // date, Sunday
	Status        BatchStatus `json:"status" db:"status"`
	ErrorReason   string      `json:"error_reason,omitempty" db:"error_reason"`
	DigestSkipped bool        `json:"digest_skipped" db:"digest_skipped"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// FeedbackItem is a single user review after extraction (and, downstream,
// after cleaning). The Hash is a stable content fingerprint used for
// store-level deduplication across overlapping extractions.
type FeedbackItem struct {
	ID     string    `json:"id,omitempty" db:"id"`
	AppID  string    `json:"app_id" db:"app_id"`
	Rating int       `json:"rating" db:"rating"` // 1..5
	Title  string    `json:"title,omitempty" db:"title"`
	Text   string    `json:"text" db:"text"`
	Date   time.Time `json:"date" db:"review_date"`
	Hash   string    `json:"hash" db:"review_hash"`
}

// Theme is one summarized topic extracted from a week of feedback.
type Theme struct {
	Name      string   `json:"name"`
	KeyPoints []string `json:"key_points"`
	Quotes    []string `json:"quotes"`
}

// DigestTheme is a theme as it appears in the final digest: name plus a
// short synthesized summary.
type DigestTheme struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Digest is the synthesized weekly summary artifact delivered by email and
// persisted as the batch's pulse note.
type Digest struct {
	Title     string        `json:"title"`
	Overview  string        `json:"overview"`
	Themes    []DigestTheme `json:"themes"` // at most 3
	Quotes    []string      `json:"quotes"`
	Actions   []string      `json:"actions"`
	WordCount int           `json:"word_count"`
}

// DeliveryResult reports per-recipient delivery outcomes. Partial failure is
// not an error; only total inability to reach the provider is.
type DeliveryResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// RunSummary aggregates the outcome of one scheduler firing or manual run
// across all targeted subscriptions.
type RunSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add accumulates another summary into s.
func (s *RunSummary) Add(other RunSummary) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// ExitCode returns a process exit status for operational use: non-zero when
// any subscription failed.
func (s RunSummary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// SendInput is the provider-neutral email send request consumed by
// external.EmailProvider implementations.
type SendInput struct {
	To       string `json:"to"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}
