package popup

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/event"
)

// DeadlineTracker closes an unanswered popup shortly after the next minute
// boundary, extending the deadline while the user is interacting with it.
type DeadlineTracker struct {
	clock clock.Clock
	timer clock.Timer

	timing          bool
	enabled         bool
	deadline        time.Time
	lastInteraction time.Time

	// TimedOut fires when the open popup is abandoned.
	TimedOut event.Source[struct{}]
}

// NewDeadlineTracker creates an idle tracker.
func NewDeadlineTracker(c clock.Clock) *DeadlineTracker {
	dt := &DeadlineTracker{clock: c, timer: c.NewTimer(false), enabled: true}
	dt.timer.OnElapsed(dt.elapsed)
	return dt
}

// StartTimingPrompt arms the deadline for a newly shown popup.
func (dt *DeadlineTracker) StartTimingPrompt() {
	now := dt.clock.Now()
	d := PromptTimeout
	if toMinute := now.Truncate(time.Minute).Add(time.Minute).Sub(now) + DeadlineBuffer; toMinute < d {
		d = toMinute
	}
	dt.timing = true
	dt.enabled = true
	dt.deadline = now.Add(d)
	dt.lastInteraction = time.Time{}
	dt.timer.SetInterval(d)
	dt.timer.Start()
	slog.Debug("DeadlineTracker.StartTimingPrompt: deadline armed", "deadline", dt.deadline)
}

// EndTimingPrompt cancels the deadline.
func (dt *DeadlineTracker) EndTimingPrompt() {
	dt.timer.Stop()
	dt.timing = false
	dt.deadline = time.Time{}
}

// ResetGracePeriod records a user interaction with the open popup.
func (dt *DeadlineTracker) ResetGracePeriod() {
	dt.lastInteraction = dt.clock.Now()
}

// DisableTimeout keeps the popup open past its deadline.
func (dt *DeadlineTracker) DisableTimeout() {
	dt.enabled = false
}

// EnableTimeout re-enables the deadline, expiring at once if it already passed.
func (dt *DeadlineTracker) EnableTimeout() {
	dt.enabled = true
	if dt.timing && !dt.timer.Running() && !dt.clock.Now().Before(dt.deadline) {
		slog.Debug("DeadlineTracker.EnableTimeout: deadline already passed")
		dt.elapsed()
	}
}

// Timing reports whether a popup is being timed.
func (dt *DeadlineTracker) Timing() bool { return dt.timing }

// Deadline returns the current deadline, zero when idle.
func (dt *DeadlineTracker) Deadline() time.Time { return dt.deadline }

func (dt *DeadlineTracker) elapsed() {
	if !dt.timing {
		return
	}
	now := dt.clock.Now()
	if !dt.lastInteraction.IsZero() {
		if since := now.Sub(dt.lastInteraction); since < InteractionGracePeriod {
			dt.timer.SetInterval(InteractionGracePeriod - since)
			dt.timer.Start()
			return
		}
	}
	if !dt.enabled {
		return
	}
	dt.timing = false
	slog.Debug("DeadlineTracker.elapsed: popup timed out")
	dt.TimedOut.Emit(struct{}{})
}
