package popup

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/event"
	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

// LatestMissBackfiller re-asks the most recently missed regular popup, once.
type LatestMissBackfiller struct {
	clock   clock.Clock
	cadence models.CadenceContext
	miss    *models.Popup

	// Due receives re-ask popups.
	Due event.Source[models.Popup]
}

// NewLatestMissBackfiller creates a backfiller with no tracked miss.
func NewLatestMissBackfiller(c clock.Clock) *LatestMissBackfiller {
	return &LatestMissBackfiller{clock: c}
}

// UpdateCadenceContext replaces the cadence used for the freshness check.
func (b *LatestMissBackfiller) UpdateCadenceContext(ctx models.CadenceContext) { b.cadence = ctx }

// TrackedMiss returns the currently tracked miss, if any.
func (b *LatestMissBackfiller) TrackedMiss() *models.Popup { return b.miss }

// ResponseCollected clears the tracked miss once a regular popup is answered.
func (b *LatestMissBackfiller) ResponseCollected(p models.Popup) {
	if !p.IsBackfill {
		b.miss = nil
	}
}

// ResponseMissed tracks a missed regular popup and re-asks it while no newer
// slot has become due.
func (b *LatestMissBackfiller) ResponseMissed(p models.Popup) {
	if p.IsBackfill {
		if p.OriginatorName != models.OriginatorLatestMissBackfiller {
			return
		}
		// The re-ask went unanswered too; never ask about this slot again.
		if b.miss != nil && b.miss.TimeCollected.Equal(p.TimeCollected) {
			b.miss = nil
		}
		return
	}

	miss := p
	b.miss = &miss
	if !b.cadence.Active() {
		return
	}
	latest := schedule.LatestDueTimeBefore(b.cadence, b.clock.Now()).Add(-b.cadence.DesiredFrequency)
	if miss.TimeCollected.Before(latest) {
		slog.Debug("LatestMissBackfiller.ResponseMissed: newer slot due, not re-asking", "timeCollected", miss.TimeCollected, "latestDue", latest)
		return
	}
	slog.Info("LatestMissBackfiller.ResponseMissed: re-asking missed slot", "timeCollected", miss.TimeCollected)
	b.Due.Emit(models.Popup{
		TimeCollected:      miss.TimeCollected,
		TimeBlockLengthMin: miss.TimeBlockLengthMin,
		Question:           fmt.Sprintf("What were you doing at %s?", schedule.FormatClock(miss.TimeCollected)),
		QuestionType:       models.QuestionTypeSimple,
		IsBackfill:         true,
		OriginatorName:     models.OriginatorLatestMissBackfiller,
	})
}
