package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	fire := time.Date(2026, time.August, 31, 2, 30, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, TriggerRecord{
		Key:      "immediate:sub-1",
		Kind:     KindOneShot,
		NextFire: fire,
		Payload:  "sub-1",
	}))

	// Re-registering the same key replaces the pending record.
	later := fire.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, TriggerRecord{
		Key:      "immediate:sub-1",
		Kind:     KindOneShot,
		NextFire: later,
		Payload:  "sub-1",
	}))

	rec, ok := store.Get("immediate:sub-1")
	require.True(t, ok)
	assert.True(t, later.Equal(rec.NextFire))
}

func TestMemoryUpsertRequiresKey(t *testing.T) {
	store := NewMemory()
	err := store.Upsert(context.Background(), TriggerRecord{Kind: KindOneShot})
	require.Error(t, err)
}

func TestMemoryUpsertRecurringKeepsEarlierFire(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	missed := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, TriggerRecord{
		Key:      WeeklyDigestKey,
		Kind:     KindRecurring,
		CronSpec: "0 8 * * 1",
		NextFire: missed,
	}))

	// Startup re-registration computes the next occurrence from "now";
	// the armed earlier occurrence must survive it.
	require.NoError(t, store.Upsert(ctx, TriggerRecord{
		Key:      WeeklyDigestKey,
		Kind:     KindRecurring,
		CronSpec: "0 8 * * 1",
		NextFire: missed.AddDate(0, 0, 7),
	}))

	rec, ok := store.Get(WeeklyDigestKey)
	require.True(t, ok)
	assert.True(t, missed.Equal(rec.NextFire), "earlier armed occurrence must win")
}

func TestMemoryDueOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	base := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, TriggerRecord{Key: "b", Kind: KindOneShot, NextFire: base.Add(2 * time.Minute)}))
	require.NoError(t, store.Upsert(ctx, TriggerRecord{Key: "a", Kind: KindOneShot, NextFire: base}))
	require.NoError(t, store.Upsert(ctx, TriggerRecord{Key: "future", Kind: KindOneShot, NextFire: base.Add(time.Hour)}))

	due, err := store.Due(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].Key)
	assert.Equal(t, "b", due[1].Key)
}

func TestMemoryDueIncludesExactInstant(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	fire := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, TriggerRecord{Key: "k", Kind: KindOneShot, NextFire: fire}))

	due, err := store.Due(ctx, fire)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	due, err = store.Due(ctx, fire.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryCompleteOneShotRemoves(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	fire := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, TriggerRecord{Key: "immediate:sub-1", Kind: KindOneShot, NextFire: fire, Payload: "sub-1"}))
	require.NoError(t, store.Complete(ctx, "immediate:sub-1", fire))

	_, ok := store.Get("immediate:sub-1")
	assert.False(t, ok, "one-shot must be removed after completion")
}

func TestMemoryCompleteRecurringAdvancesAndCoalesces(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	// Armed for Aug 10; the process was down for two occurrences and the
	// catch-up firing is acknowledged on Aug 26.
	armed := time.Date(2026, time.August, 10, 2, 30, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, TriggerRecord{
		Key:      WeeklyDigestKey,
		Kind:     KindRecurring,
		CronSpec: "0 8 * * 1",
		NextFire: armed,
	}))

	firedAt := time.Date(2026, time.August, 26, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Complete(ctx, WeeklyDigestKey, firedAt))

	rec, ok := store.Get(WeeklyDigestKey)
	require.True(t, ok)

	// Both missed occurrences (Aug 17, Aug 24) collapse into the single
	// acknowledged firing; the next fire is the first occurrence after it.
	want := time.Date(2026, time.August, 31, 2, 30, 0, 0, time.UTC)
	assert.True(t, want.Equal(rec.NextFire), "want %v, got %v", want, rec.NextFire)
}

func TestMemoryCompleteMissingKeyIsNoOp(t *testing.T) {
	store := NewMemory()
	assert.NoError(t, store.Complete(context.Background(), "gone", time.Now()))
}

func TestMemoryRemoveAbsentKeyIsNoOp(t *testing.T) {
	store := NewMemory()
	assert.NoError(t, store.Remove(context.Background(), "never-registered"))
}

func TestNextFireFor(t *testing.T) {
	firedAt := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)

	next, err := NextFireFor(TriggerRecord{Kind: KindRecurring, CronSpec: "0 8 * * 1"}, firedAt)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.August, 31, 2, 30, 0, 0, time.UTC), next)

	next, err = NextFireFor(TriggerRecord{Kind: KindOneShot}, firedAt)
	require.NoError(t, err)
	assert.True(t, next.IsZero())

	_, err = NextFireFor(TriggerRecord{Kind: KindRecurring, CronSpec: "bogus"}, firedAt)
	require.Error(t, err)
}

func TestEffectiveOccurrence(t *testing.T) {
	armed := time.Date(2026, time.August, 10, 2, 30, 0, 0, time.UTC)
	asOf := time.Date(2026, time.August, 24, 2, 31, 0, 0, time.UTC)

	// Three occurrences are behind asOf (Aug 10, 17, 24); the most recent
	// one is the effective target.
	rec := TriggerRecord{Kind: KindRecurring, CronSpec: "0 8 * * 1", NextFire: armed}
	want := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)
	got := EffectiveOccurrence(rec, asOf)
	assert.True(t, want.Equal(got), "want %v, got %v", want, got)

	// A single slightly-late occurrence is already the most recent one.
	rec.NextFire = want
	got = EffectiveOccurrence(rec, asOf)
	assert.True(t, want.Equal(got))

	// Not yet due: returned unchanged.
	future := asOf.Add(time.Hour)
	rec.NextFire = future
	assert.True(t, future.Equal(EffectiveOccurrence(rec, asOf)))

	// One-shots have a single occurrence regardless of lateness.
	oneShot := TriggerRecord{Kind: KindOneShot, NextFire: armed}
	assert.True(t, armed.Equal(EffectiveOccurrence(oneShot, asOf)))

	// A broken cron spec falls back to the stored occurrence.
	broken := TriggerRecord{Kind: KindRecurring, CronSpec: "bogus", NextFire: armed}
	assert.True(t, armed.Equal(EffectiveOccurrence(broken, asOf)))
}

func TestImmediateKey(t *testing.T) {
	assert.Equal(t, "immediate:sub-42", ImmediateKey("sub-42"))
}
