package popup

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

// BackfillStep is the position of the deep-gap state machine.
type BackfillStep int

const (
	StepIdle BackfillStep = iota
	StepAskingWhatWasUserDoing
	StepAskingFollowup
)

func (s BackfillStep) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepAskingWhatWasUserDoing:
		return "asking_what_was_user_doing"
	case StepAskingFollowup:
		return "asking_followup"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// ResponseBlock is a range of time already accounted for.
type ResponseBlock struct {
	Start  time.Time
	Length time.Duration
}

// End returns the exclusive end of the block.
func (b ResponseBlock) End() time.Time { return b.Start.Add(b.Length) }

// Gap is an unaccounted range [Start, End). StartBackfillAt is the slot the
// next question asks about; it is later than Start when the lookback is clipped.
type Gap struct {
	Start           time.Time
	StartBackfillAt time.Time
	End             time.Time
}

// GapState is everything the deep-gap backfiller knows. The functions in this
// file take a state and return the next one; none of them keep hidden fields.
type GapState struct {
	Step                BackfillStep
	Blocks              []ResponseBlock // descending by Start
	DoNotBackfillBefore time.Time
	Gap                 *Gap
	HeldText            string
	LastAskedAt         time.Time
}

// RebuildBlocks replaces the blocks with today's historical entries. Entries from
// detailed popups are not blocks: they move the do-not-backfill-before boundary.
// The boundary is recomputed from entries on every call.
func RebuildBlocks(s GapState, entries []models.Entry, now time.Time) GapState {
	s.DoNotBackfillBefore = time.Time{}
	blocks := make([]ResponseBlock, 0, len(entries))
	for _, e := range entries {
		end := e.End()
		if !schedule.SameDay(end, now) {
			continue
		}
		if e.SubmissionType == models.SubmissionTypeDetailed {
			if end.After(s.DoNotBackfillBefore) {
				s.DoNotBackfillBefore = end
			}
			continue
		}
		blocks = append(blocks, ResponseBlock{Start: e.TimeCollected, Length: time.Duration(e.TimeBlockLengthMin) * time.Minute})
	}
	sortBlocks(blocks)
	s.Blocks = blocks
	return s
}

// RecordResponses adds each response as a block.
func RecordResponses(s GapState, responses []models.Response) GapState {
	blocks := make([]ResponseBlock, 0, len(s.Blocks)+len(responses))
	blocks = append(blocks, s.Blocks...)
	for _, r := range responses {
		blocks = append(blocks, ResponseBlock{Start: r.TimeCollected, Length: time.Duration(r.TimeBlockLengthMin) * time.Minute})
	}
	sortBlocks(blocks)
	s.Blocks = blocks
	return s
}

func sortBlocks(blocks []ResponseBlock) {
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Start.After(blocks[j].Start) })
}

// Abort drops any backfill sequence in progress.
func Abort(s GapState) GapState {
	s.Step = StepIdle
	s.Gap = nil
	s.HeldText = ""
	return s
}

// CanStartBackfilling refuses a new sequence while a backfill question is still
// within its answer window.
func CanStartBackfilling(s GapState, now time.Time) bool {
	return s.Step == StepIdle || now.Sub(s.LastAskedAt) >= BackfillAnswerWindow
}

// SearchWindow returns the range gaps are searched in: from the earliest allowed
// slot (or the detailed boundary, whichever is later) to the latest due time.
func SearchWindow(s GapState, ctx models.CadenceContext, now time.Time) (time.Time, time.Time, bool) {
	start := schedule.EarliestAllowedSlot(ctx, now)
	if s.DoNotBackfillBefore.After(start) {
		start = s.DoNotBackfillBefore
	}
	end := schedule.LatestDueTimeBefore(ctx, now)
	return start, end, end.After(start)
}

// FindGaps returns every uncovered range in the search window, latest first.
// StartBackfillAt equals Start in the result.
func FindGaps(s GapState, ctx models.CadenceContext, now time.Time) []Gap {
	start, end, ok := SearchWindow(s, ctx, now)
	if !ok {
		return nil
	}

	covered := make([]ResponseBlock, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		bs, be := b.Start, b.End()
		if !be.After(start) || !bs.Before(end) {
			continue
		}
		if bs.Before(start) {
			bs = start
		}
		if be.After(end) {
			be = end
		}
		covered = append(covered, ResponseBlock{Start: bs, Length: be.Sub(bs)})
	}
	sort.Slice(covered, func(i, j int) bool { return covered[i].Start.Before(covered[j].Start) })

	var gaps []Gap
	cursor := start
	for _, b := range covered {
		if b.Start.Sub(cursor) >= MinGapLength {
			gaps = append(gaps, Gap{Start: cursor, StartBackfillAt: cursor, End: b.Start})
		}
		if b.End().After(cursor) {
			cursor = b.End()
		}
	}
	if end.Sub(cursor) >= MinGapLength {
		gaps = append(gaps, Gap{Start: cursor, StartBackfillAt: cursor, End: end})
	}

	for i, j := 0, len(gaps)-1; i < j; i, j = i+1, j-1 {
		gaps[i], gaps[j] = gaps[j], gaps[i]
	}
	return gaps
}

// LatestGap returns the most recent gap with its first question clipped to at
// most MaxBackfillDepth periods before the window end. A gap lying entirely
// beyond that depth is not returned.
func LatestGap(s GapState, ctx models.CadenceContext, now time.Time) (Gap, bool) {
	gaps := FindGaps(s, ctx, now)
	if len(gaps) == 0 {
		return Gap{}, false
	}
	g := gaps[0]
	_, end, _ := SearchWindow(s, ctx, now)
	limit := end.Add(-MaxBackfillDepth * ctx.DesiredFrequency)
	if g.StartBackfillAt.Before(limit) {
		g.StartBackfillAt = limit
	}
	if g.End.Sub(g.StartBackfillAt) < MinGapLength {
		return Gap{}, false
	}
	return g, true
}

func gapContaining(gaps []Gap, t time.Time) (Gap, bool) {
	for _, g := range gaps {
		if !t.Before(g.Start) && t.Before(g.End) {
			return g, true
		}
	}
	return Gap{}, false
}

// OpenNextGap starts a sequence for the latest gap, returning the first question.
func OpenNextGap(s GapState, ctx models.CadenceContext, now time.Time) (GapState, *models.Popup) {
	s = Abort(s)
	g, ok := LatestGap(s, ctx, now)
	if !ok {
		return s, nil
	}
	slog.Debug("OpenNextGap: gap found", "start", g.Start, "startBackfillAt", g.StartBackfillAt, "end", g.End)
	s.Gap = &g
	return askWhatWasUserDoing(s, ctx, now, "")
}

func askWhatWasUserDoing(s GapState, ctx models.CadenceContext, now time.Time, suggested string) (GapState, *models.Popup) {
	at := s.Gap.StartBackfillAt
	if s.Gap.End.Sub(s.Gap.Start) <= ctx.DesiredFrequency {
		at = s.Gap.Start
	}
	length := s.Gap.End.Sub(at)
	question := fmt.Sprintf("What were you doing between %s and %s?", schedule.FormatClock(at), schedule.FormatClock(s.Gap.End))
	if length > ctx.DesiredFrequency {
		length = ctx.DesiredFrequency
		question = fmt.Sprintf("What were you doing at %s?", schedule.FormatClock(at))
	}
	s.Step = StepAskingWhatWasUserDoing
	s.LastAskedAt = now
	return s, &models.Popup{
		TimeCollected:      at,
		TimeBlockLengthMin: minutes(length),
		Question:           question,
		QuestionType:       models.QuestionTypeSimple,
		IsBackfill:         true,
		OriginatorName:     models.OriginatorDeepGapBackfiller,
		SuggestedResponse:  suggested,
	}
}

func askFollowup(s GapState, now time.Time) (GapState, *models.Popup) {
	s.Step = StepAskingFollowup
	s.LastAskedAt = now
	return s, &models.Popup{
		TimeCollected:      s.Gap.StartBackfillAt,
		TimeBlockLengthMin: minutes(s.Gap.End.Sub(s.Gap.Start)),
		Question: fmt.Sprintf("Were you doing mostly %q between %s and %s?",
			s.HeldText, schedule.FormatClock(s.Gap.Start), schedule.FormatClock(s.Gap.End)),
		QuestionType:   models.QuestionTypeYesNo,
		IsBackfill:     true,
		OriginatorName: models.OriginatorDeepGapBackfiller,
	}
}

// advance moves the sequence to the slot starting at next within the same gap,
// or to the next gap once this one is used up.
func advance(s GapState, ctx models.CadenceContext, now time.Time, next time.Time, suggested string) (GapState, *models.Popup) {
	if s.Gap.End.Sub(next) >= MinGapLength {
		g := *s.Gap
		g.Start = next
		g.StartBackfillAt = next
		s.Gap = &g
		s.HeldText = ""
		return askWhatWasUserDoing(s, ctx, now, suggested)
	}
	return OpenNextGap(s, ctx, now)
}

func pastGapResponse(text string, start time.Time, length time.Duration) models.Response {
	return models.Response{
		ResponseText:       text,
		TimeCollected:      start,
		TimeBlockLengthMin: minutes(length),
		SubmissionType:     models.SubmissionTypePastGapBackfill,
	}
}

// ProcessResponse interprets the answer to a deep-gap popup. It returns the next
// state, the responses to submit, and the next question to ask (nil for none).
func ProcessResponse(s GapState, ctx models.CadenceContext, p models.Popup, r models.Response, now time.Time) (GapState, []models.Response, *models.Popup) {
	if s.Step == StepIdle || s.Gap == nil {
		slog.Warn("ProcessResponse: no backfill in progress, dropping response", "timeCollected", p.TimeCollected)
		next, popup := OpenNextGap(s, ctx, now)
		return next, nil, popup
	}

	current, ok := gapContaining(FindGaps(s, ctx, now), p.TimeCollected)
	if !ok {
		slog.Warn("ProcessResponse: gap no longer exists, dropping response", "timeCollected", p.TimeCollected, "gapEnd", s.Gap.End)
		next, popup := OpenNextGap(s, ctx, now)
		return next, nil, popup
	}
	g := *s.Gap
	if current.Start.After(g.Start) {
		g.Start = current.Start
	}
	if current.End.Before(g.End) {
		g.End = current.End
	}
	s.Gap = &g

	period := ctx.DesiredFrequency
	text := strings.TrimSpace(r.ResponseText)

	switch p.QuestionType {
	case models.QuestionTypeSimple:
		// A short gap is answered whole, including any part before the
		// lookback limit.
		if whole := g.End.Sub(g.Start); whole <= period {
			out := pastGapResponse(text, g.Start, whole)
			s = RecordResponses(s, []models.Response{out})
			next, popup := OpenNextGap(s, ctx, now)
			return next, []models.Response{out}, popup
		}
		if p.SuggestedResponse != "" && strings.EqualFold(text, strings.TrimSpace(p.SuggestedResponse)) {
			at := g.StartBackfillAt
			length := g.End.Sub(at)
			if length > period {
				length = period
			}
			out := pastGapResponse(text, at, length)
			s = RecordResponses(s, []models.Response{out})
			next, popup := advance(s, ctx, now, at.Add(length), text)
			return next, []models.Response{out}, popup
		}
		s.HeldText = text
		next, popup := askFollowup(s, now)
		return next, nil, popup

	case models.QuestionTypeYesNo:
		if s.Step != StepAskingFollowup || s.HeldText == "" {
			slog.Warn("ProcessResponse: yes/no answer without a held response, dropping", "timeCollected", p.TimeCollected)
			next, popup := OpenNextGap(s, ctx, now)
			return next, nil, popup
		}
		held := s.HeldText
		switch parseYesNo(text) {
		case answerYes:
			out := pastGapResponse(held, g.Start, g.End.Sub(g.Start))
			s = RecordResponses(s, []models.Response{out})
			next, popup := OpenNextGap(s, ctx, now)
			return next, []models.Response{out}, popup
		case answerNo:
			at := g.StartBackfillAt
			length := g.End.Sub(at)
			if length > period {
				length = period
			}
			out := pastGapResponse(held, at, length)
			s = RecordResponses(s, []models.Response{out})
			next, popup := advance(s, ctx, now, at.Add(length), held)
			return next, []models.Response{out}, popup
		default:
			slog.Warn("ProcessResponse: unrecognized yes/no answer, dropping", "answer", text)
			next, popup := OpenNextGap(s, ctx, now)
			return next, nil, popup
		}

	default:
		slog.Warn("ProcessResponse: unexpected question type for backfill", "questionType", p.QuestionType)
		next, popup := OpenNextGap(s, ctx, now)
		return next, nil, popup
	}
}

type yesNoAnswer int

const (
	answerUnknown yesNoAnswer = iota
	answerYes
	answerNo
)

func parseYesNo(text string) yesNoAnswer {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "true":
		return answerYes
	case "no", "n", "false":
		return answerNo
	default:
		return answerUnknown
	}
}
