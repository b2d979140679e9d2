package popup

import (
	"testing"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/models"
)

func newTestLatestMiss(now time.Time) (*clock.Fake, *LatestMissBackfiller, *[]models.Popup) {
	c := clock.NewFake(now)
	b := NewLatestMissBackfiller(c)
	b.UpdateCadenceContext(cadence(10, at(9, 0)))
	var got []models.Popup
	b.Due.Subscribe(func(p models.Popup) { got = append(got, p) })
	return c, b, &got
}

func regularPopup(t time.Time) models.Popup {
	return models.Popup{TimeCollected: t, TimeBlockLengthMin: 10, QuestionType: models.QuestionTypeSimple, OriginatorName: models.OriginatorRegularTimer}
}

func TestLatestMissReasksOnce(t *testing.T) {
	_, b, got := newTestLatestMiss(at(9, 31))

	b.ResponseMissed(regularPopup(at(9, 20)))
	if len(*got) != 1 {
		t.Fatalf("expected one re-ask, got %d", len(*got))
	}
	reask := (*got)[0]
	if !reask.IsBackfill || reask.OriginatorName != models.OriginatorLatestMissBackfiller {
		t.Errorf("unexpected re-ask origin: %+v", reask)
	}
	if reask.Question != "What were you doing at 9:20 AM?" {
		t.Errorf("unexpected question %q", reask.Question)
	}
	if !reask.TimeCollected.Equal(at(9, 20)) || reask.TimeBlockLengthMin != 10 {
		t.Errorf("unexpected slot %v/%d", reask.TimeCollected, reask.TimeBlockLengthMin)
	}

	b.ResponseMissed(reask)
	if len(*got) != 1 {
		t.Fatalf("expected no second re-ask, got %d", len(*got))
	}
	if b.TrackedMiss() != nil {
		t.Error("expected the miss cleared after the re-ask was missed")
	}
}

func TestLatestMissSkipsStaleSlot(t *testing.T) {
	_, b, got := newTestLatestMiss(at(9, 41))
	b.ResponseMissed(regularPopup(at(9, 20)))
	if len(*got) != 0 {
		t.Fatalf("expected no re-ask once a newer slot is due, got %d", len(*got))
	}
	if b.TrackedMiss() == nil {
		t.Error("expected the miss to stay tracked")
	}
}

func TestLatestMissIgnoresOtherBackfills(t *testing.T) {
	_, b, got := newTestLatestMiss(at(9, 31))
	b.ResponseMissed(regularPopup(at(9, 20)))
	gapQuestion := models.Popup{TimeCollected: at(9, 0), TimeBlockLengthMin: 10, IsBackfill: true, OriginatorName: models.OriginatorDeepGapBackfiller}
	b.ResponseMissed(gapQuestion)
	b.ResponseCollected(gapQuestion)
	if len(*got) != 1 || b.TrackedMiss() == nil {
		t.Fatalf("expected deep gap popups to leave the miss alone, reasks=%d", len(*got))
	}

	b.ResponseCollected(regularPopup(at(9, 30)))
	if b.TrackedMiss() != nil {
		t.Error("expected a regular answer to clear the miss")
	}
}
