// Package schedule computes cadence slot times.
//
// A slot is identified by its start instant and covers one cadence period. Slots
// are laid out from local midnight, or from the cadence start when the cadence was
// started earlier on the same day. A slot becomes due at its end boundary.
//
// All functions are pure and require an active CadenceContext.
package schedule

import (
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
)

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day in b's location.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartedAt returns the cadence start truncated to the minute.
func StartedAt(ctx models.CadenceContext) time.Time {
	return ctx.StartedAt.Truncate(time.Minute)
}

// StartedToday reports whether the cadence started on t's day, no later than t.
func StartedToday(ctx models.CadenceContext, t time.Time) bool {
	started := StartedAt(ctx)
	return SameDay(started, t) && !started.After(t)
}

func anchor(ctx models.CadenceContext, t time.Time) time.Time {
	if StartedToday(ctx, t) {
		return StartedAt(ctx).In(t.Location())
	}
	return StartOfDay(t)
}

// LatestDueTimeBefore returns the most recent slot boundary at or before t. The
// slot ending there is the latest one that has fully elapsed, so it starts one
// period earlier. When the cadence started today boundaries count from
// StartedAt, and the first due instant is StartedAt plus one period.
func LatestDueTimeBefore(ctx models.CadenceContext, t time.Time) time.Time {
	period := ctx.DesiredFrequency
	a := anchor(ctx, t)
	k := t.Sub(a) / period
	return a.Add(time.Duration(k) * period)
}

// NthPrecedingSlot walks back n periods from the latest due time, never earlier
// than EarliestAllowedSlot.
func NthPrecedingSlot(ctx models.CadenceContext, t time.Time, n int) time.Time {
	slot := LatestDueTimeBefore(ctx, t).Add(-time.Duration(n) * ctx.DesiredFrequency)
	if floor := EarliestAllowedSlot(ctx, t); slot.Before(floor) {
		return floor
	}
	return slot
}

// EarliestAllowedSlot is the cadence start if it started today, else midnight.
func EarliestAllowedSlot(ctx models.CadenceContext, t time.Time) time.Time {
	if StartedToday(ctx, t) {
		return StartedAt(ctx).In(t.Location())
	}
	return StartOfDay(t)
}

// MinuteOfDay returns the number of minutes since local midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// FormatClock renders t the way questions show it to the user.
func FormatClock(t time.Time) string {
	return t.Format("3:04 PM")
}
