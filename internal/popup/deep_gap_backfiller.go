package popup

import (
	"log/slog"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/event"
	"github.com/BTreeMap/PingPipe/internal/models"
)

// DeepGapBackfiller reconstructs unaccounted time from recorded responses and
// asks the fewest questions needed to fill it. Its state lives in a GapState.
type DeepGapBackfiller struct {
	clock   clock.Clock
	cadence models.CadenceContext
	state   GapState

	// Due receives backfill questions.
	Due event.Source[models.Popup]
}

// NewDeepGapBackfiller creates an idle backfiller with no blocks.
func NewDeepGapBackfiller(c clock.Clock) *DeepGapBackfiller {
	return &DeepGapBackfiller{clock: c}
}

// UpdateCadenceContext replaces the cadence used for gap search.
func (b *DeepGapBackfiller) UpdateCadenceContext(ctx models.CadenceContext) { b.cadence = ctx }

// State returns a snapshot of the state machine.
func (b *DeepGapBackfiller) State() GapState { return b.state }

// UpdateHistoricalEntries rebuilds the response blocks from authoritative entries.
func (b *DeepGapBackfiller) UpdateHistoricalEntries(entries []models.Entry) {
	b.state = RebuildBlocks(b.state, entries, b.clock.Now())
	slog.Debug("DeepGapBackfiller.UpdateHistoricalEntries: blocks rebuilt", "blocks", len(b.state.Blocks), "doNotBackfillBefore", b.state.DoNotBackfillBefore)
}

// CanStartBackfilling reports whether a new backfill sequence may start now.
func (b *DeepGapBackfiller) CanStartBackfilling() bool {
	return CanStartBackfilling(b.state, b.clock.Now())
}

// ProcessCollectedResponse records responses and returns what should be submitted.
// Responses to other components' popups pass through unchanged; answers to this
// component's questions are re-timed, held, or dropped.
func (b *DeepGapBackfiller) ProcessCollectedResponse(p models.Popup, responses []models.Response) []models.Response {
	if !b.cadence.Active() {
		return nil
	}
	now := b.clock.Now()

	if p.OriginatorName != models.OriginatorDeepGapBackfiller {
		b.state = RecordResponses(b.state, responses)
		if CanStartBackfilling(b.state, now) {
			var next *models.Popup
			b.state, next = OpenNextGap(b.state, b.cadence, now)
			b.ask(next)
		}
		return responses
	}

	if len(responses) != 1 {
		slog.Warn("DeepGapBackfiller.ProcessCollectedResponse: expected exactly one response, discarding", "count", len(responses))
		return nil
	}
	var out []models.Response
	var next *models.Popup
	b.state, out, next = ProcessResponse(b.state, b.cadence, p, responses[0], now)
	b.ask(next)
	return out
}

// ResponseMissed aborts any backfill sequence in progress.
func (b *DeepGapBackfiller) ResponseMissed(p models.Popup) {
	if b.state.Step != StepIdle {
		slog.Debug("DeepGapBackfiller.ResponseMissed: aborting backfill", "step", b.state.Step, "timeCollected", p.TimeCollected)
	}
	b.state = Abort(b.state)
}

func (b *DeepGapBackfiller) ask(p *models.Popup) {
	if p == nil {
		return
	}
	slog.Info("DeepGapBackfiller.ask: backfill question", "timeCollected", p.TimeCollected, "questionType", p.QuestionType)
	b.Due.Emit(*p)
}
