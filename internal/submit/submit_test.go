package submit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/popup"
	"github.com/BTreeMap/PingPipe/internal/store"
)

var testDay = time.Date(2026, 6, 10, 0, 0, 0, 0, time.Local)

func at(hour, min int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestChannelSubmitEnqueuesValidResponses(t *testing.T) {
	s := store.NewInMemoryStore()
	notified := 0
	c := NewChannel(s, WithUserID("u_1"), WithNotify(func() { notified++ }))

	c.Submit([]models.Response{
		{ResponseText: " coding ", TimeCollected: at(9, 0), TimeBlockLengthMin: 15, SubmissionType: models.SubmissionTypeRegular},
		{ResponseText: "", TimeCollected: at(9, 15), TimeBlockLengthMin: 15, SubmissionType: models.SubmissionTypeRegular},
	})

	msgs := s.OutboxMessages()
	if len(msgs) != 1 || msgs[0].Kind != KindResponses || msgs[0].UserID != "u_1" {
		t.Fatalf("unexpected outbox %+v", msgs)
	}
	var p Payload
	if err := json.Unmarshal([]byte(msgs[0].PayloadJSON), &p); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if len(p.Responses) != 1 || p.Responses[0].ResponseText != "coding" {
		t.Errorf("expected only the trimmed valid response, got %+v", p.Responses)
	}
	if notified != 1 {
		t.Errorf("expected one notification, got %d", notified)
	}

	c.Submit([]models.Response{{ResponseText: "", TimeCollected: at(9, 30), TimeBlockLengthMin: 15}})
	if len(s.OutboxMessages()) != 1 || notified != 1 {
		t.Error("expected an all-invalid submission to enqueue nothing")
	}
}

func TestDeliverStoresEntriesOnce(t *testing.T) {
	s := store.NewInMemoryStore()
	c := NewChannel(s)
	c.Submit([]models.Response{
		{ResponseText: "email", TimeCollected: at(9, 0), TimeBlockLengthMin: 15, SubmissionType: models.SubmissionTypeRegular},
		{ResponseText: "lunch", TimeCollected: at(12, 0), TimeBlockLengthMin: 30, SubmissionType: models.SubmissionTypePastGapBackfill},
	})

	stored := 0
	send := Deliver(s, func() { stored++ })
	msg := s.OutboxMessages()[0]
	if err := send(context.Background(), msg); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if err := send(context.Background(), msg); err != nil {
		t.Fatalf("redeliver failed: %v", err)
	}

	entries, _ := s.EntriesBetween(testDay, testDay.AddDate(0, 0, 1))
	if len(entries) != 2 {
		t.Fatalf("expected redelivery not to duplicate entries, got %+v", entries)
	}
	if entries[1].SubmissionType != models.SubmissionTypePastGapBackfill || entries[1].TimeBlockLengthMin != 30 {
		t.Errorf("unexpected entry %+v", entries[1])
	}
	if stored != 2 {
		t.Errorf("expected onStored per delivery, got %d", stored)
	}
}

func TestDeliverRejectsUnknownKind(t *testing.T) {
	send := Deliver(store.NewInMemoryStore(), nil)
	err := send(context.Background(), store.OutboxMessage{ID: "outbox_1", Kind: "other"})
	if err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
	err = send(context.Background(), store.OutboxMessage{ID: "outbox_2", Kind: KindResponses, PayloadJSON: "{"})
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Errorf("expected a wrapped JSON error, got %v", err)
	}
}

func TestRefresherLoadsToday(t *testing.T) {
	s := store.NewInMemoryStore()
	s.AddEntries([]models.Entry{
		{ID: "e_old", ResponseText: "sleep", TimeCollected: at(-2, 0), TimeBlockLengthMin: 60, SubmissionType: models.SubmissionTypeRegular},
		{ID: "e_new", ResponseText: "email", TimeCollected: at(9, 0), TimeBlockLengthMin: 15, SubmissionType: models.SubmissionTypeRegular},
	})
	var applied []models.Entry
	r := NewRefresher(s, clock.NewFake(at(10, 0)), func(es []models.Entry) { applied = es })
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(applied) != 1 || applied[0].ID != "e_new" {
		t.Errorf("expected only today's entry, got %+v", applied)
	}
}

func TestRefresherKeepsEntriesCrossingMidnight(t *testing.T) {
	s := store.NewInMemoryStore()
	s.AddEntries([]models.Entry{
		{ID: "e_night", ResponseText: "day so far", TimeCollected: at(-1, 0), TimeBlockLengthMin: 90, SubmissionType: models.SubmissionTypeDetailed},
		{ID: "e_new", ResponseText: "email", TimeCollected: at(9, 0), TimeBlockLengthMin: 15, SubmissionType: models.SubmissionTypeRegular},
	})
	c := clock.NewFake(at(10, 0))
	orch := popup.NewOrchestrator(c, NewChannel(s))
	r := NewRefresher(s, c, orch.UpdateHistoricalEntries)
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := orch.DeepGap().State().DoNotBackfillBefore; !got.Equal(at(0, 30)) {
		t.Errorf("expected the boundary at 00:30 from the entry crossing midnight, got %v", got)
	}
}

// An answered popup travels through the outbox into the entry store and back
// into the engine, after which the slot no longer counts as a gap.
func TestSubmissionRoundTrip(t *testing.T) {
	s := store.NewInMemoryStore()
	c := clock.NewFake(at(1, 0))
	ch := NewChannel(s, WithUserID("u_1"))
	orch := popup.NewOrchestrator(c, ch)
	refresher := NewRefresher(s, c, orch.UpdateHistoricalEntries)
	sender := store.NewOutboxSender(s, Deliver(s, refresher.RefreshOrLog), time.Second)

	orch.UpdateUser(models.User{ID: "u_1", AccountType: models.AccountTypePaid})
	orch.UpdateCadenceContext(models.CadenceContext{DesiredFrequency: 15 * time.Minute, StartedAt: at(0, 0), WasStarted: true})
	s.AddEntries([]models.Entry{{ID: "e_1", ResponseText: "email", TimeCollected: at(0, 0), TimeBlockLengthMin: 45, SubmissionType: models.SubmissionTypeRegular}})
	if err := refresher.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	orch.Start()
	c.Advance(popup.TickInterval)
	p := orch.Current()
	if p == nil || !p.TimeCollected.Equal(at(0, 45)) {
		t.Fatalf("expected the 00:45 popup, got %+v", p)
	}
	orch.Complete(*p, []models.Response{popup.NewResponse(*p, "coding")})

	if n := sender.Poll(context.Background(), time.Now()); n != 1 {
		t.Fatalf("expected one delivered message, got %d", n)
	}
	entries, _ := s.EntriesBetween(testDay, testDay.AddDate(0, 0, 1))
	if len(entries) != 2 {
		t.Fatalf("expected the answer stored as an entry, got %+v", entries)
	}
	if gaps := popup.FindGaps(orch.DeepGap().State(), models.CadenceContext{DesiredFrequency: 15 * time.Minute, StartedAt: at(0, 0), WasStarted: true}, c.Now()); len(gaps) != 0 {
		t.Errorf("expected no gaps after the round trip, got %+v", gaps)
	}
}
