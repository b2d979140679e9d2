package submit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/schedule"
)

// EntryReader is the read side of the entry store.
type EntryReader interface {
	EntriesBetween(from, to time.Time) ([]models.Entry, error)
}

// Refresher loads today's entries and hands them to apply, usually a function
// that posts Orchestrator.UpdateHistoricalEntries onto the engine loop.
type Refresher struct {
	entries EntryReader
	clock   clock.Clock
	apply   func([]models.Entry)
}

// NewRefresher creates a Refresher.
func NewRefresher(entries EntryReader, c clock.Clock, apply func([]models.Entry)) *Refresher {
	return &Refresher{entries: entries, clock: c, apply: apply}
}

// MaxEntryLookback bounds how long before midnight an entry may start and still
// reach into the current day.
const MaxEntryLookback = 24 * time.Hour

// Refresh reads the entries that end on the current day and applies them. Entries
// that started yesterday and run past midnight are included.
func (r *Refresher) Refresh() error {
	from := schedule.StartOfDay(r.clock.Now())
	list, err := r.entries.EntriesBetween(from.Add(-MaxEntryLookback), from.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}
	today := list[:0]
	for _, e := range list {
		if e.End().After(from) {
			today = append(today, e)
		}
	}
	slog.Debug("Refresher.Refresh: applying entries", "day", from.Format("2006-01-02"), "count", len(today))
	r.apply(today)
	return nil
}

// RefreshOrLog is Refresh for callbacks that cannot return an error.
func (r *Refresher) RefreshOrLog() {
	if err := r.Refresh(); err != nil {
		slog.Error("Refresher.RefreshOrLog: refresh failed", "error", err)
	}
}
