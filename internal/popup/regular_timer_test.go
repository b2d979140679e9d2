package popup

import (
	"testing"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/models"
)

func newTestRegularTimer(now time.Time, ctx models.CadenceContext) (*clock.Fake, *RegularTimer, *[]models.Popup) {
	c := clock.NewFake(now)
	rt := NewRegularTimer(c)
	rt.UpdateCadenceContext(ctx)
	rt.UpdateUser(paidUser)
	var got []models.Popup
	rt.Due.Subscribe(func(p models.Popup) { got = append(got, p) })
	rt.Start()
	return c, rt, &got
}

func TestRegularTimerFirstPromptAfterStartIsDetailed(t *testing.T) {
	c, _, got := newTestRegularTimer(at(9, 31), cadence(10, at(9, 0)))
	c.Advance(TickInterval)

	if len(*got) != 1 {
		t.Fatalf("expected 1 popup, got %d", len(*got))
	}
	p := (*got)[0]
	if !p.TimeCollected.Equal(at(9, 20)) {
		t.Errorf("expected timeCollected 09:20, got %v", p.TimeCollected)
	}
	if p.QuestionType != models.QuestionTypeDetailed {
		t.Errorf("expected detailed question with no prior responses, got %s", p.QuestionType)
	}
	if p.IsBackfill || p.OriginatorName != models.OriginatorRegularTimer {
		t.Errorf("unexpected origin: backfill=%v originator=%s", p.IsBackfill, p.OriginatorName)
	}
	if p.TimeBlockLengthMin != 10 {
		t.Errorf("expected 10 minute block, got %d", p.TimeBlockLengthMin)
	}
}

func TestRegularTimerFiresOncePerSlot(t *testing.T) {
	c, rt, got := newTestRegularTimer(at(9, 30), cadence(10, at(9, 0)))
	rt.SetLatestEntryEnd(at(9, 20))

	c.Advance(9*time.Minute + 30*time.Second)
	if len(*got) != 1 {
		t.Fatalf("expected 1 popup before 09:40, got %d", len(*got))
	}
	if (*got)[0].QuestionType != models.QuestionTypeSimple {
		t.Errorf("expected simple question after a recent entry, got %s", (*got)[0].QuestionType)
	}

	c.Advance(time.Minute)
	if len(*got) != 2 {
		t.Fatalf("expected 2 popups after 09:40, got %d", len(*got))
	}
	if !(*got)[1].TimeCollected.Equal(at(9, 30)) {
		t.Errorf("expected second popup at 09:30, got %v", (*got)[1].TimeCollected)
	}
	if !rt.LastCheckTime().Equal(c.Now()) {
		t.Errorf("expected last check at %v, got %v", c.Now(), rt.LastCheckTime())
	}
}

func TestRegularTimerStartupGrace(t *testing.T) {
	c, _, got := newTestRegularTimer(at(9, 0), cadence(10, at(9, 0)))
	c.Advance(9*time.Minute + 59*time.Second)
	if len(*got) != 0 {
		t.Fatalf("expected no popup within the first period, got %d", len(*got))
	}
	c.Advance(15 * time.Second)
	if len(*got) != 1 || !(*got)[0].TimeCollected.Equal(at(9, 0)) {
		t.Fatalf("expected first popup for the 09:00 slot, got %+v", *got)
	}
}

func TestRegularTimerSuppressed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(rt *RegularTimer)
	}{
		{"paused", func(rt *RegularTimer) { rt.Pause() }},
		{"expired account", func(rt *RegularTimer) { rt.UpdateUser(models.User{AccountType: models.AccountTypeExpired}) }},
		{"unknown account", func(rt *RegularTimer) { rt.UpdateUser(models.User{}) }},
		{"inactive cadence", func(rt *RegularTimer) { rt.UpdateCadenceContext(models.CadenceContext{}) }},
		{"entry ends in the future", func(rt *RegularTimer) { rt.SetLatestEntryEnd(at(10, 0)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rt, got := newTestRegularTimer(at(9, 31), cadence(10, at(9, 0)))
			tt.setup(rt)
			c.Advance(time.Minute)
			if len(*got) != 0 {
				t.Errorf("expected no popups, got %d", len(*got))
			}
		})
	}
}

func TestRegularTimerPauseDoesNotReplaySkippedSlots(t *testing.T) {
	c, rt, got := newTestRegularTimer(at(9, 31), cadence(10, at(9, 0)))
	rt.Pause()
	c.Advance(20 * time.Minute)
	rt.Resume()
	c.Advance(TickInterval)
	if len(*got) != 0 {
		t.Fatalf("expected no popup right after resume, got %d", len(*got))
	}
	c.AdvanceTo(at(10, 0).Add(TickInterval))
	if len(*got) != 1 || !(*got)[0].TimeCollected.Equal(at(9, 50)) {
		t.Fatalf("expected the 09:50 slot after resume, got %+v", *got)
	}
}

func TestRegularTimerShowNow(t *testing.T) {
	c, rt, got := newTestRegularTimer(at(9, 0).Add(80*time.Second), cadence(10, at(9, 0)))
	rt.ShowNow("reading")
	if len(*got) != 1 {
		t.Fatalf("expected 1 popup, got %d", len(*got))
	}
	if p := (*got)[0]; !p.TimeCollected.Equal(at(9, 0)) || p.SuggestedResponse != "reading" || p.QuestionType != models.QuestionTypeSimple {
		t.Errorf("unexpected manual popup near start: %+v", p)
	}

	c.Advance(3 * time.Minute)
	rt.ShowNow("")
	if p := (*got)[len(*got)-1]; !p.TimeCollected.Equal(at(9, 4)) {
		t.Errorf("expected manual popup truncated to 09:04, got %v", p.TimeCollected)
	}
}
