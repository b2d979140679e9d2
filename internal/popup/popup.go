// Package popup implements the popup scheduling and gap-backfilling engine.
//
// Three sources create popups: the RegularTimer (one per elapsed cadence slot),
// the LatestMissBackfiller (re-asks the most recently missed slot once) and the
// DeepGapBackfiller (reconstructs unaccounted ranges and asks follow-ups). All of
// them feed the DeliveryQueue, which shows at most one popup at a time. The
// Orchestrator owns the current popup, its deadline, and the order in which
// answers and misses are reported back to the sources.
//
// The engine is single-threaded: every method must be called from the goroutine
// that runs the clock's timer callbacks (see clock.Loop).
package popup

import (
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
)

// Engine timing constants
const (
	// TickInterval is how often the regular timer polls the clock.
	TickInterval = 15 * time.Second
	// LongInactivityThreshold switches a scheduled popup to a detailed question.
	LongInactivityThreshold = 40 * time.Minute
	// ManualStartWindow snaps a manual popup to the cadence start when opened right after starting.
	ManualStartWindow = 90 * time.Second

	// MinPopupSpacing is the minimum delay between closing one popup and showing the next.
	MinPopupSpacing = 100 * time.Millisecond
	// QueuedPopupTimeout evicts popups that waited too long behind an open one.
	QueuedPopupTimeout = 60 * time.Second

	// PromptTimeout is the longest a simple popup stays open without an answer.
	PromptTimeout = 60 * time.Second
	// DeadlineBuffer is added to the time remaining until the next minute boundary.
	DeadlineBuffer = 2 * time.Second
	// InteractionGracePeriod keeps a popup open after the user last touched it.
	InteractionGracePeriod = 10 * time.Second

	// MaxBackfillDepth bounds how many periods back the first gap question may reach.
	MaxBackfillDepth = 9
	// BackfillAnswerWindow is how long a backfill question blocks a new backfill sequence.
	BackfillAnswerWindow = 60 * time.Second
	// MinGapLength ignores uncovered ranges shorter than this.
	MinGapLength = time.Minute
)

// Submitter is the external channel that persists accepted responses.
// Submit must not block; failures are the channel's concern.
type Submitter interface {
	Submit(responses []models.Response)
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(responses []models.Response)

// Submit calls f(responses).
func (f SubmitterFunc) Submit(responses []models.Response) { f(responses) }

// NewResponse builds the response a UI would produce for p, tagged with the
// submission type matching the popup's origin.
func NewResponse(p models.Popup, text string) models.Response {
	st := models.SubmissionTypeRegular
	switch {
	case p.OriginatorName == models.OriginatorDeepGapBackfiller:
		st = models.SubmissionTypePastGapBackfill
	case p.OriginatorName == models.OriginatorLatestMissBackfiller:
		st = models.SubmissionTypeSingleSlotBackfill
	case p.QuestionType == models.QuestionTypeDetailed:
		st = models.SubmissionTypeDetailed
	}
	return models.Response{
		ResponseText:       text,
		TimeCollected:      p.TimeCollected,
		TimeBlockLengthMin: p.TimeBlockLengthMin,
		SubmissionType:     st,
	}
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
