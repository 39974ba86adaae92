// Package jobstore defines the durable trigger registry consumed by the
// scheduler. A trigger is a keyed scheduling record: recurring triggers carry
// a cron recurrence evaluated in business time, one-shot triggers fire once
// and are removed. Re-registering a trigger under an existing key replaces
// the previous record, never duplicates it, which makes registration safe to
// repeat across process restarts.
//
// All persisted instants are on the neutral clock (UTC).
package jobstore

import (
	"context"
	"time"

	"reviewpulse/internal/clock"
)

// TriggerKind distinguishes recurring from one-shot triggers.
type TriggerKind string

const (
	// KindRecurring triggers re-arm after each firing using CronSpec.
	KindRecurring TriggerKind = "recurring"
	// KindOneShot triggers are removed after a successful firing.
	KindOneShot TriggerKind = "one_shot"
)

// Well-known trigger keys. One-shot immediate-analysis triggers use
// ImmediateKeyPrefix followed by the subscription ID.
const (
	WeeklyDigestKey    = "weekly_digest"
	ImmediateKeyPrefix = "immediate:"
)

// ImmediateKey builds the one-shot trigger key for a subscription.
func ImmediateKey(subscriptionID string) string {
	return ImmediateKeyPrefix + subscriptionID
}

// TriggerRecord is the persisted scheduling metadata for one trigger key.
type TriggerRecord struct {
	Key         string        `json:"key" db:"key"`
	Kind        TriggerKind   `json:"kind" db:"kind"`
	CronSpec    string        `json:"cron_spec,omitempty" db:"cron_spec"` // empty for one-shots
	NextFire    time.Time     `json:"next_fire" db:"next_fire"`           // neutral clock
	GracePeriod time.Duration `json:"grace_period" db:"grace_period"`
	Payload     string        `json:"payload,omitempty" db:"payload"` // opaque handler argument
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Store is the trigger registry contract. Implementations must be safe for
// concurrent use; the production implementation is backed by Postgres so that
// scheduled recurrences survive process restarts.
type Store interface {
	// Upsert registers or replaces the trigger for rec.Key. When an armed
	// recurring trigger is re-registered, the earlier of the stored and new
	// NextFire wins, so startup registration cannot discard an occurrence
	// that was missed while the process was down.
	Upsert(ctx context.Context, rec TriggerRecord) error

	// Due returns all triggers with NextFire <= asOf, ordered by NextFire.
	// A trigger remains due until Complete advances or removes it, so a
	// crashed firing is rediscovered on the next poll.
	Due(ctx context.Context, asOf time.Time) ([]TriggerRecord, error)

	// Remove deletes the trigger for key. Removing an absent key is a no-op.
	Remove(ctx context.Context, key string) error

	// Complete acknowledges a firing. Recurring triggers advance NextFire to
	// the first occurrence after firedAt, which coalesces any backlog of
	// missed occurrences into the single firing just acknowledged. One-shot
	// triggers are removed.
	Complete(ctx context.Context, key string, firedAt time.Time) error
}

// NextFireFor computes the replacement NextFire for a record acknowledged at
// firedAt. Returns the zero time for one-shots (no next occurrence).
func NextFireFor(rec TriggerRecord, firedAt time.Time) (time.Time, error) {
	if rec.Kind != KindRecurring {
		return time.Time{}, nil
	}
	return clock.NextFireAfter(rec.CronSpec, firedAt)
}

// EffectiveOccurrence returns the most recent occurrence of rec at or before
// asOf. The store keeps the oldest missed occurrence in NextFire; when a
// recurring trigger has been down across several occurrences, the catch-up
// firing targets the latest of them, and lateness is measured from it. For
// one-shots, and for records not yet due, NextFire is returned unchanged.
func EffectiveOccurrence(rec TriggerRecord, asOf time.Time) time.Time {
	if rec.Kind != KindRecurring || rec.NextFire.After(asOf) {
		return rec.NextFire
	}
	occ := rec.NextFire
	for {
		next, err := clock.NextFireAfter(rec.CronSpec, occ)
		if err != nil || !next.After(occ) || next.After(asOf) {
			return occ
		}
		occ = next
	}
}
