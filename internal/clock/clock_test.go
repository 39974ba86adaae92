package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessZoneOffset(t *testing.T) {
	// IST is UTC+5:30 year-round; no DST transitions to worry about.
	local := time.Date(2026, time.August, 24, 8, 0, 0, 0, BusinessZone())
	utc := ToNeutral(local)

	assert.Equal(t, time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC), utc)
}

func TestNeutralRoundTrip(t *testing.T) {
	instant := time.Date(2026, time.March, 9, 2, 30, 0, 0, time.UTC)

	back := ToNeutral(FromNeutral(instant))
	assert.True(t, instant.Equal(back), "neutral -> business -> neutral must name the same instant")

	local := FromNeutral(instant)
	assert.Equal(t, 8, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.Equal(t, time.Monday, local.Weekday())
}

func TestWeekWindow(t *testing.T) {
	tests := []struct {
		name      string
		ref       time.Time
		wantStart time.Time
	}{
		{
			// Monday 08:00 business time, the weekly fire instant. The week
			// that ended this morning is still settling; the one before it
			// is the newest fully-settled week.
			name:      "weekly fire instant",
			ref:       time.Date(2026, time.August, 24, 8, 0, 0, 0, BusinessZone()),
			wantStart: time.Date(2026, time.August, 10, 0, 0, 0, 0, BusinessZone()),
		},
		{
			// Midweek reference: same settled week as the Monday before it.
			name:      "wednesday midweek",
			ref:       time.Date(2026, time.August, 26, 15, 30, 0, 0, BusinessZone()),
			wantStart: time.Date(2026, time.August, 10, 0, 0, 0, 0, BusinessZone()),
		},
		{
			// Exactly Monday 00:00 belongs to the new week; the settling
			// buffer measured from it spans the full prior week.
			name:      "monday midnight boundary",
			ref:       time.Date(2026, time.August, 24, 0, 0, 0, 0, BusinessZone()),
			wantStart: time.Date(2026, time.August, 10, 0, 0, 0, 0, BusinessZone()),
		},
		{
			// One second before the boundary still counts as Sunday of the
			// old week, pushing the settled window one week further back.
			name:      "sunday just before midnight",
			ref:       time.Date(2026, time.August, 23, 23, 59, 59, 0, BusinessZone()),
			wantStart: time.Date(2026, time.August, 3, 0, 0, 0, 0, BusinessZone()),
		},
		{
			// A UTC reference converts into business time before windowing.
			name:      "utc reference",
			ref:       time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC),
			wantStart: time.Date(2026, time.August, 10, 0, 0, 0, 0, BusinessZone()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WeekWindow(tt.ref)

			assert.True(t, tt.wantStart.Equal(w.Start), "start: want %v, got %v", tt.wantStart, w.Start)
			assert.True(t, tt.wantStart.AddDate(0, 0, 7).Equal(w.End))
			assert.Equal(t, time.Monday, w.Start.Weekday())

			// The settling buffer: the window must end at least 7 days
			// before the reference instant.
			assert.GreaterOrEqual(t, tt.ref.Sub(w.End), 7*24*time.Hour)
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := WeekWindow(time.Date(2026, time.August, 24, 8, 0, 0, 0, BusinessZone()))

	assert.True(t, w.Contains(w.Start), "start is inclusive")
	assert.False(t, w.Contains(w.End), "end is exclusive")
	assert.True(t, w.Contains(w.End.Add(-time.Second)))
	assert.False(t, w.Contains(w.Start.Add(-time.Second)))
}

func TestWindowWeekEndDate(t *testing.T) {
	w := WeekWindow(time.Date(2026, time.August, 24, 8, 0, 0, 0, BusinessZone()))

	end := w.WeekEndDate()
	assert.Equal(t, time.Sunday, end.Weekday())
	assert.Equal(t, 16, end.Day())
	assert.Equal(t, time.August, end.Month())
}

func TestNextWeeklyFire(t *testing.T) {
	// Sunday evening: next fire is the following morning.
	sunday := time.Date(2026, time.August, 23, 20, 0, 0, 0, BusinessZone())
	next := NextWeeklyFire(sunday)
	assert.Equal(t, time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC), next)

	// Exactly at the fire instant: strictly after, so a week later.
	atFire := time.Date(2026, time.August, 24, 8, 0, 0, 0, BusinessZone())
	next = NextWeeklyFire(atFire)
	assert.Equal(t, time.Date(2026, time.August, 31, 2, 30, 0, 0, time.UTC), next)
}

func TestNextFireAfter(t *testing.T) {
	after := time.Date(2026, time.August, 24, 2, 30, 0, 0, time.UTC)

	next, err := NextFireAfter(WeeklyCronSpec, after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.August, 31, 2, 30, 0, 0, time.UTC), next)

	_, err = NextFireAfter("not a cron spec", after)
	require.Error(t, err)
}
