package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/util"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// withIDs fills in missing entry IDs and normalizes times to UTC for storage.
func withIDs(entries []models.Entry) []models.Entry {
	out := make([]models.Entry, len(entries))
	now := time.Now().UTC()
	for i, e := range entries {
		if e.ID == "" {
			e.ID = util.GenerateEntryID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		e.TimeCollected = e.TimeCollected.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		out[i] = e
	}
	return out
}

// scanEntries reads entry rows, converting stored UTC times to local time.
func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		var st string
		if err := rows.Scan(&e.ID, &e.ResponseText, &e.TimeCollected, &e.TimeBlockLengthMin, &st, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry failed: %w", err)
		}
		e.SubmissionType = models.SubmissionType(st)
		e.TimeCollected = e.TimeCollected.Local()
		e.CreatedAt = e.CreatedAt.Local()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry rows failed: %w", err)
	}
	return entries, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.UserID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
