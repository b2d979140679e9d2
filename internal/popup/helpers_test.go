package popup

import (
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/models"
)

var testDay = time.Date(2026, 6, 10, 0, 0, 0, 0, time.Local)

func at(hour, min int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func cadence(freqMin int, started time.Time) models.CadenceContext {
	return models.CadenceContext{
		DesiredFrequency: time.Duration(freqMin) * time.Minute,
		StartedAt:        started,
		WasStarted:       true,
	}
}

func entry(text string, start time.Time, lengthMin int, st models.SubmissionType) models.Entry {
	return models.Entry{ResponseText: text, TimeCollected: start, TimeBlockLengthMin: lengthMin, SubmissionType: st}
}

var paidUser = models.User{ID: "u_test", AccountType: models.AccountTypePaid}

type recordingSubmitter struct {
	batches [][]models.Response
}

func (r *recordingSubmitter) Submit(responses []models.Response) {
	r.batches = append(r.batches, responses)
}

func (r *recordingSubmitter) all() []models.Response {
	var out []models.Response
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

type harness struct {
	clock    *clock.Fake
	orch     *Orchestrator
	sub      *recordingSubmitter
	changes  []*models.Popup
	accepted [][]models.Response
}

func newHarness(now time.Time, ctx models.CadenceContext, entries []models.Entry) *harness {
	h := &harness{clock: clock.NewFake(now), sub: &recordingSubmitter{}}
	h.orch = NewOrchestrator(h.clock, h.sub)
	h.orch.PopupChanged.Subscribe(func(p *models.Popup) { h.changes = append(h.changes, p) })
	h.orch.ResponsesAccepted.Subscribe(func(rs []models.Response) { h.accepted = append(h.accepted, rs) })
	h.orch.UpdateUser(paidUser)
	h.orch.UpdateCadenceContext(ctx)
	h.orch.UpdateHistoricalEntries(entries)
	return h
}

// answer completes the current popup with a single text answer and lets the
// queue's spacing delay elapse.
func (h *harness) answer(text string) {
	p := h.orch.Current()
	if p == nil {
		panic("no current popup to answer")
	}
	h.orch.Complete(*p, []models.Response{NewResponse(*p, text)})
	h.clock.Advance(MinPopupSpacing)
}
