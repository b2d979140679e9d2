package popup

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/event"
	"github.com/BTreeMap/PingPipe/internal/models"
)

// Orchestrator wires the popup sources to the delivery queue and owns the
// current popup. It is the engine's public surface.
type Orchestrator struct {
	clock     clock.Clock
	submitter Submitter

	regular    *RegularTimer
	queue      *DeliveryQueue
	deadline   *DeadlineTracker
	latestMiss *LatestMissBackfiller
	deepGap    *DeepGapBackfiller

	current        *models.Popup
	cadence        models.CadenceContext
	latestEntryEnd time.Time

	// PopupChanged receives the new current popup, or nil when it closes.
	PopupChanged event.Source[*models.Popup]
	// ResponsesAccepted receives the final responses handed to the submitter.
	ResponsesAccepted event.Source[[]models.Response]
}

// NewOrchestrator builds and wires the engine. Call Start to begin scheduling.
func NewOrchestrator(c clock.Clock, submitter Submitter) *Orchestrator {
	o := &Orchestrator{
		clock:      c,
		submitter:  submitter,
		regular:    NewRegularTimer(c),
		queue:      NewDeliveryQueue(c),
		deadline:   NewDeadlineTracker(c),
		latestMiss: NewLatestMissBackfiller(c),
		deepGap:    NewDeepGapBackfiller(c),
	}
	o.regular.Due.Subscribe(o.queue.Enqueue)
	o.latestMiss.Due.Subscribe(o.queue.Enqueue)
	o.deepGap.Due.Subscribe(o.queue.Enqueue)
	o.queue.Due.Subscribe(o.promptDue)
	o.deadline.TimedOut.Subscribe(func(struct{}) { o.onDeadlineExpired() })
	return o
}

// Start begins polling for due slots.
func (o *Orchestrator) Start() {
	slog.Info("Orchestrator.Start: engine started")
	o.regular.Start()
}

// Stop halts scheduling and cancels every owned timer.
func (o *Orchestrator) Stop() {
	o.regular.Stop()
	o.deadline.EndTimingPrompt()
	o.queue.Stop()
	slog.Info("Orchestrator.Stop: engine stopped")
}

// Current returns a copy of the open popup, or nil.
func (o *Orchestrator) Current() *models.Popup {
	if o.current == nil {
		return nil
	}
	p := *o.current
	return &p
}

// RegularTimer exposes the regular timer for pause state and diagnostics.
func (o *Orchestrator) RegularTimer() *RegularTimer { return o.regular }

// Queue exposes the delivery queue for diagnostics.
func (o *Orchestrator) Queue() *DeliveryQueue { return o.queue }

// DeepGap exposes the deep-gap backfiller for diagnostics.
func (o *Orchestrator) DeepGap() *DeepGapBackfiller { return o.deepGap }

func (o *Orchestrator) promptDue(p models.Popup) {
	o.current = &p
	o.deadline.StartTimingPrompt()
	if p.QuestionType == models.QuestionTypeDetailed {
		o.deadline.DisableTimeout()
	}
	o.publishCurrent()
}

func (o *Orchestrator) publishCurrent() {
	o.PopupChanged.Emit(o.Current())
}

// Complete ends the current popup with the user's responses.
//
// The order below is load-bearing: the popup is closed and its deadline stopped
// before any component hears about the answer, and the queue learns the popup is
// done before the backfillers react, except for detailed answers, which flush the
// queue first because they supersede anything waiting.
func (o *Orchestrator) Complete(p models.Popup, responses []models.Response) {
	if o.current == nil {
		slog.Warn("Orchestrator.Complete: no popup open, ignoring", "timeCollected", p.TimeCollected)
		return
	}
	if !o.current.TimeCollected.Equal(p.TimeCollected) || o.current.OriginatorName != p.OriginatorName {
		slog.Warn("Orchestrator.Complete: popup is not the current one, ignoring",
			"timeCollected", p.TimeCollected, "currentTimeCollected", o.current.TimeCollected)
		return
	}
	closed := *o.current

	// 1. Close.
	o.current = nil
	o.publishCurrent()
	// 2. Stop the deadline.
	o.deadline.EndTimingPrompt()

	// 3. Tell the queue and the backfillers.
	var accepted []models.Response
	if closed.QuestionType == models.QuestionTypeDetailed {
		o.latestMiss.ResponseCollected(closed)
		o.queue.Clear()
		o.queue.MarkCurrentDone()
		accepted = responses
	} else {
		o.queue.MarkCurrentDone()
		o.latestMiss.ResponseCollected(closed)
		accepted = o.deepGap.ProcessCollectedResponse(closed, responses)
	}

	// 4. Submit.
	if len(accepted) == 0 {
		return
	}
	o.noteAccepted(accepted)
	o.ResponsesAccepted.Emit(accepted)
	o.submitter.Submit(accepted)
}

// onDeadlineExpired follows the same order as Complete: close, stop the
// deadline, free the queue, then report the miss.
func (o *Orchestrator) onDeadlineExpired() {
	if o.current == nil {
		return
	}
	missed := *o.current
	slog.Info("Orchestrator.onDeadlineExpired: popup missed", "timeCollected", missed.TimeCollected, "originator", missed.OriginatorName)

	o.current = nil
	o.publishCurrent()
	o.deadline.EndTimingPrompt()
	o.queue.MarkCurrentDone()
	o.latestMiss.ResponseMissed(missed)
	o.deepGap.ResponseMissed(missed)
}

// SwitchToDetailed turns the current simple popup into a detailed one without a deadline.
func (o *Orchestrator) SwitchToDetailed() {
	if o.current == nil || o.current.QuestionType != models.QuestionTypeSimple {
		return
	}
	p := *o.current
	p.QuestionType = models.QuestionTypeDetailed
	o.current = &p
	o.deadline.DisableTimeout()
	o.publishCurrent()
}

// SwitchToSimple turns the current detailed popup back into a simple one. The
// deadline is re-enabled and may expire immediately.
func (o *Orchestrator) SwitchToSimple() {
	if o.current == nil || o.current.QuestionType != models.QuestionTypeDetailed {
		return
	}
	p := *o.current
	p.QuestionType = models.QuestionTypeSimple
	o.current = &p
	o.publishCurrent()
	o.deadline.EnableTimeout()
}

// UserInteracted extends the current popup's deadline grace period.
func (o *Orchestrator) UserInteracted() {
	o.deadline.ResetGracePeriod()
}

// ShowNow opens a popup immediately.
func (o *Orchestrator) ShowNow(suggestedResponse string) {
	o.regular.ShowNow(suggestedResponse)
}

// Pause suppresses scheduled popups.
func (o *Orchestrator) Pause() { o.regular.Pause() }

// Resume allows scheduled popups again.
func (o *Orchestrator) Resume() { o.regular.Resume() }

// UpdateCadenceContext fans the cadence out. Deactivating the cadence closes
// the current popup.
func (o *Orchestrator) UpdateCadenceContext(ctx models.CadenceContext) {
	wasActive := o.cadence.Active()
	o.cadence = ctx
	o.queue.UpdateCadenceContext(ctx)
	o.regular.UpdateCadenceContext(ctx)
	o.latestMiss.UpdateCadenceContext(ctx)
	o.deepGap.UpdateCadenceContext(ctx)
	slog.Debug("Orchestrator.UpdateCadenceContext: cadence updated", "active", ctx.Active(), "frequency", ctx.DesiredFrequency, "startedAt", ctx.StartedAt)

	if wasActive && !ctx.Active() && o.current != nil {
		slog.Info("Orchestrator.UpdateCadenceContext: cadence stopped, closing popup")
		o.current = nil
		o.publishCurrent()
		o.deadline.EndTimingPrompt()
		o.queue.MarkCurrentDone()
	}
}

// UpdateUser replaces the account used to gate prompting.
func (o *Orchestrator) UpdateUser(u models.User) {
	o.regular.UpdateUser(u)
}

// UpdateHistoricalEntries replaces the recorded entries used for gap search.
func (o *Orchestrator) UpdateHistoricalEntries(entries []models.Entry) {
	o.deepGap.UpdateHistoricalEntries(entries)

	var latest time.Time
	for _, e := range entries {
		if end := e.End(); end.After(latest) {
			latest = end
		}
	}
	o.latestEntryEnd = latest
	o.regular.SetLatestEntryEnd(latest)

	if boundary := o.deepGap.State().DoNotBackfillBefore; !boundary.IsZero() {
		o.queue.ClearPopupsBefore(boundary)
	}
}

func (o *Orchestrator) noteAccepted(responses []models.Response) {
	for _, r := range responses {
		if end := r.End(); end.After(o.latestEntryEnd) {
			o.latestEntryEnd = end
		}
	}
	o.regular.SetLatestEntryEnd(o.latestEntryEnd)
}
