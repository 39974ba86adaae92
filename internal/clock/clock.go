// Package clock converts between the fixed business timezone and the neutral
// scheduling clock, and computes the week windows the pipeline operates on.
//
// Business time is IST (Asia/Kolkata): subscriber-facing semantics like
// "every Monday 8 AM" are expressed in IST. All persisted trigger times and
// all comparisons use the neutral clock (UTC) to avoid policy-drift
// ambiguity. These functions are pure; callers inject the reference instant.
package clock

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// BusinessZoneName is the fixed named zone for human-facing scheduling
// semantics.
const BusinessZoneName = "Asia/Kolkata"

// WeeklyCronSpec fires Monday 08:00 in the business zone.
const WeeklyCronSpec = "0 8 * * 1"

// businessZone is loaded once; Asia/Kolkata ships with the Go tzdata on all
// supported platforms, so failure here is a build/deployment defect.
var businessZone = mustLoadZone(BusinessZoneName)

func mustLoadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("clock: cannot load business zone %q: %v", name, err))
	}
	return loc
}

// BusinessZone returns the fixed business-time location.
func BusinessZone() *time.Location {
	return businessZone
}

// NowBusiness returns the current instant expressed in business time.
func NowBusiness() time.Time {
	return time.Now().In(businessZone)
}

// ToNeutral converts any instant to the neutral (UTC) clock.
func ToNeutral(t time.Time) time.Time {
	return t.UTC()
}

// FromNeutral converts a neutral-clock instant to business time. The mapping
// round-trips exactly with ToNeutral since both name the same instant.
func FromNeutral(t time.Time) time.Time {
	return t.In(businessZone)
}

// Window is a half-open [Start, End) calendar-week interval. Start and End
// are midnights in business time; Start is a Monday, End the following
// Monday, so the last included calendar day is a Sunday.
type Window struct {
	Start time.Time
	End   time.Time
}

// WeekEndDate returns the last calendar day inside the window (the Sunday),
// for display and persistence as week_end.
func (w Window) WeekEndDate() time.Time {
	return w.End.AddDate(0, 0, -1)
}

// Contains reports whether t falls inside the half-open window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// WeekWindow returns the most recently completed Monday-Sunday week that ends
// strictly more than 7 days before ref. The trailing 7 days are always
// excluded so late-arriving reviews settle before a week is processed.
//
// An instant falling exactly on a week boundary (Monday 00:00 business time)
// belongs to the new week, never the finished one: windows are half-open.
func WeekWindow(ref time.Time) Window {
	local := ref.In(businessZone)

	// Midnight of the reference day, then back to the Monday of its week.
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, businessZone)
	weekday := int(day.Weekday()+6) % 7 // Monday=0 .. Sunday=6
	thisMonday := day.AddDate(0, 0, -weekday)

	// The current week is incomplete and the immediately preceding week may
	// still be inside the 7-day settling buffer. Step back until the window
	// end is at least 7 days before the reference instant.
	start := thisMonday.AddDate(0, 0, -7)
	for local.Sub(start.AddDate(0, 0, 7)) < 7*24*time.Hour {
		start = start.AddDate(0, 0, -7)
	}

	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

// weeklySchedule is parsed once at init; the spec is a compile-time constant.
var weeklySchedule = mustParseCron(WeeklyCronSpec)

func mustParseCron(spec string) cron.Schedule {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		panic(fmt.Sprintf("clock: invalid weekly cron spec %q: %v", spec, err))
	}
	return sched
}

// NextWeeklyFire returns the next Monday 08:00 business-time occurrence
// strictly after the given instant, expressed on the neutral clock.
func NextWeeklyFire(after time.Time) time.Time {
	return weeklySchedule.Next(after.In(businessZone)).UTC()
}

// NextFireAfter computes the next occurrence of an arbitrary standard cron
// spec interpreted in business time, returned on the neutral clock. Used by
// the job store to advance recurring triggers.
func NextFireAfter(spec string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cron spec %q: %w", spec, err)
	}
	return sched.Next(after.In(businessZone)).UTC(), nil
}
