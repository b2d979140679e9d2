package popup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/event"
	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

// RegularTimer polls the clock and emits a popup whenever a cadence slot elapses.
type RegularTimer struct {
	clock  clock.Clock
	ticker clock.Timer

	cadence        models.CadenceContext
	user           models.User
	paused         bool
	lastCheckTime  time.Time
	latestEntryEnd time.Time

	// Due receives every popup the timer wants shown.
	Due event.Source[models.Popup]
}

// NewRegularTimer creates a stopped regular timer.
func NewRegularTimer(c clock.Clock) *RegularTimer {
	rt := &RegularTimer{clock: c, ticker: c.NewTimer(true)}
	rt.ticker.SetInterval(TickInterval)
	rt.ticker.OnElapsed(rt.check)
	return rt
}

// Start subscribes to clock ticks.
func (rt *RegularTimer) Start() {
	slog.Debug("RegularTimer.Start: starting tick", "interval", TickInterval)
	rt.ticker.Start()
}

// Stop unsubscribes from clock ticks.
func (rt *RegularTimer) Stop() {
	rt.ticker.Stop()
}

// Pause suppresses scheduled popups while keeping the clock subscription.
func (rt *RegularTimer) Pause() {
	slog.Info("RegularTimer.Pause: scheduled popups paused")
	rt.paused = true
}

// Resume allows scheduled popups again.
func (rt *RegularTimer) Resume() {
	slog.Info("RegularTimer.Resume: scheduled popups resumed")
	rt.paused = false
}

// Paused reports whether scheduled popups are suppressed.
func (rt *RegularTimer) Paused() bool { return rt.paused }

// UpdateCadenceContext replaces the cadence the timer schedules against.
func (rt *RegularTimer) UpdateCadenceContext(ctx models.CadenceContext) { rt.cadence = ctx }

// UpdateUser replaces the account used for gating.
func (rt *RegularTimer) UpdateUser(u models.User) { rt.user = u }

// SetLatestEntryEnd records the end of the latest known recorded response.
func (rt *RegularTimer) SetLatestEntryEnd(t time.Time) { rt.latestEntryEnd = t }

// LastCheckTime returns the instant of the last tick.
func (rt *RegularTimer) LastCheckTime() time.Time { return rt.lastCheckTime }

func (rt *RegularTimer) check() {
	now := rt.clock.Now()
	defer func() { rt.lastCheckTime = now }()

	if !rt.cadence.Active() || !rt.user.CanReceivePopups() || rt.paused {
		return
	}
	if rt.latestEntryEnd.After(now) {
		slog.Debug("RegularTimer.check: latest entry ends in the future, skipping", "latestEntryEnd", rt.latestEntryEnd, "now", now)
		return
	}
	period := rt.cadence.DesiredFrequency
	if now.Before(schedule.StartedAt(rt.cadence).Add(period)) {
		return
	}

	due := schedule.LatestDueTimeBefore(rt.cadence, now)
	if !due.After(rt.lastCheckTime) {
		return
	}
	slot := due.Add(-period)

	p := models.Popup{
		TimeCollected:      slot,
		TimeBlockLengthMin: minutes(period),
		Question:           "What were you doing?",
		QuestionType:       models.QuestionTypeSimple,
		OriginatorName:     models.OriginatorRegularTimer,
	}
	ref := rt.latestEntryEnd
	if ref.IsZero() || !schedule.SameDay(ref, now) {
		ref = schedule.StartOfDay(now)
	}
	if slot.Sub(ref) >= LongInactivityThreshold {
		p.QuestionType = models.QuestionTypeDetailed
		p.Question = fmt.Sprintf("What have you been doing since %s?", schedule.FormatClock(ref))
	}
	slog.Info("RegularTimer.check: slot elapsed", "timeCollected", slot, "questionType", p.QuestionType)
	rt.Due.Emit(p)
}

// ShowNow emits a simple popup immediately, bypassing the schedule.
func (rt *RegularTimer) ShowNow(suggestedResponse string) {
	if !rt.cadence.Active() {
		slog.Warn("RegularTimer.ShowNow: cadence inactive, ignoring")
		return
	}
	now := rt.clock.Now()
	at := now.Truncate(time.Minute)
	if started := schedule.StartedAt(rt.cadence); now.Sub(started) >= 0 && now.Sub(started) <= ManualStartWindow {
		at = started
	}
	slog.Debug("RegularTimer.ShowNow: manual popup", "timeCollected", at, "suggested", suggestedResponse != "")
	rt.Due.Emit(models.Popup{
		TimeCollected:      at,
		TimeBlockLengthMin: minutes(rt.cadence.DesiredFrequency),
		Question:           "What are you doing right now?",
		QuestionType:       models.QuestionTypeSimple,
		OriginatorName:     models.OriginatorRegularTimer,
		SuggestedResponse:  suggestedResponse,
	})
}
