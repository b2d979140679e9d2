package popup

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/event"
	"github.com/BTreeMap/PingPipe/internal/models"
)

// DeliveryQueue admits popups one at a time. A popup waiting out the minimum
// spacing already holds the open slot.
type DeliveryQueue struct {
	clock   clock.Clock
	spacing clock.Timer

	current    *models.Popup
	scheduled  *models.Popup
	pending    []models.Popup
	lastClosed time.Time
	cadence    models.CadenceContext

	// Due receives each popup when it becomes the open one.
	Due event.Source[models.Popup]
}

// NewDeliveryQueue creates an empty queue.
func NewDeliveryQueue(c clock.Clock) *DeliveryQueue {
	q := &DeliveryQueue{clock: c, spacing: c.NewTimer(false)}
	q.spacing.OnElapsed(q.releaseScheduled)
	return q
}

// Enqueue shows p now, after the spacing delay, or behind the open popup.
func (q *DeliveryQueue) Enqueue(p models.Popup) {
	if q.current != nil || q.scheduled != nil {
		p.TimeQueued = q.clock.Now()
		q.pending = append(q.pending, p)
		slog.Debug("DeliveryQueue.Enqueue: popup open, queued", "timeCollected", p.TimeCollected, "originator", p.OriginatorName, "pending", len(q.pending))
		return
	}
	q.deliver(p)
}

// MarkCurrentDone frees the open slot, evicts stale entries and promotes the next one.
func (q *DeliveryQueue) MarkCurrentDone() {
	now := q.clock.Now()
	q.current = nil
	q.lastClosed = now
	q.evict(now)
	if q.scheduled != nil || len(q.pending) == 0 {
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.deliver(next)
}

// ClearPopupsBefore drops pending popups about time before cutoff.
func (q *DeliveryQueue) ClearPopupsBefore(cutoff time.Time) {
	kept := q.pending[:0]
	for _, p := range q.pending {
		if p.TimeCollected.Before(cutoff) {
			slog.Debug("DeliveryQueue.ClearPopupsBefore: dropping popup", "timeCollected", p.TimeCollected, "cutoff", cutoff)
			continue
		}
		kept = append(kept, p)
	}
	q.pending = kept
}

// Clear drops every pending popup. The open popup is unaffected.
func (q *DeliveryQueue) Clear() {
	if len(q.pending) > 0 {
		slog.Debug("DeliveryQueue.Clear: dropping pending popups", "count", len(q.pending))
	}
	q.pending = nil
}

// UpdateCadenceContext resets the queue when the cadence becomes active.
// Deactivating drops every waiting popup, including one held by the spacing
// delay. The open popup is closed by the caller.
func (q *DeliveryQueue) UpdateCadenceContext(ctx models.CadenceContext) {
	wasActive := q.cadence.Active()
	q.cadence = ctx
	switch {
	case !wasActive && ctx.Active():
		slog.Debug("DeliveryQueue.UpdateCadenceContext: cadence activated, resetting queue")
		q.spacing.Stop()
		q.current = nil
		q.scheduled = nil
		q.pending = nil
	case wasActive && !ctx.Active():
		slog.Debug("DeliveryQueue.UpdateCadenceContext: cadence deactivated, dropping waiting popups", "pending", len(q.pending), "scheduled", q.scheduled != nil)
		q.spacing.Stop()
		q.scheduled = nil
		q.pending = nil
	}
}

// Stop cancels a pending spacing delay.
func (q *DeliveryQueue) Stop() {
	q.spacing.Stop()
	q.scheduled = nil
}

// Current returns the open popup, if any.
func (q *DeliveryQueue) Current() *models.Popup { return q.current }

// Pending returns a copy of the waiting popups in FIFO order.
func (q *DeliveryQueue) Pending() []models.Popup {
	return append([]models.Popup(nil), q.pending...)
}

func (q *DeliveryQueue) deliver(p models.Popup) {
	if !q.lastClosed.IsZero() {
		if wait := MinPopupSpacing - q.clock.Now().Sub(q.lastClosed); wait > 0 {
			q.scheduled = &p
			q.spacing.SetInterval(wait)
			q.spacing.Start()
			return
		}
	}
	q.emit(p)
}

func (q *DeliveryQueue) releaseScheduled() {
	if q.scheduled == nil {
		return
	}
	p := *q.scheduled
	q.scheduled = nil
	if !q.cadence.Active() {
		slog.Debug("DeliveryQueue.releaseScheduled: cadence inactive, dropping popup", "timeCollected", p.TimeCollected)
		return
	}
	q.emit(p)
}

func (q *DeliveryQueue) emit(p models.Popup) {
	q.current = &p
	slog.Debug("DeliveryQueue.emit: popup due", "timeCollected", p.TimeCollected, "originator", p.OriginatorName, "questionType", p.QuestionType)
	q.Due.Emit(p)
}

func (q *DeliveryQueue) evict(now time.Time) {
	if !q.cadence.Active() {
		if len(q.pending) > 0 {
			slog.Debug("DeliveryQueue.evict: cadence inactive, dropping pending popups", "count", len(q.pending))
		}
		q.pending = nil
		return
	}
	kept := q.pending[:0]
	for _, p := range q.pending {
		if now.Sub(p.TimeQueued) > QueuedPopupTimeout {
			slog.Debug("DeliveryQueue.evict: dropping stale popup", "timeCollected", p.TimeCollected, "queuedAt", p.TimeQueued)
			continue
		}
		kept = append(kept, p)
	}
	q.pending = kept
}
