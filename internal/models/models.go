// Package models defines the core data structures for PingPipe.
//
// It includes the popup (prompt) and response types exchanged between the scheduling
// engine, the UI surface and the persistence layer.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// QuestionType defines how a popup asks the user about a time block.
type QuestionType string

const (
	// QuestionTypeSimple asks for a single free-text answer covering the block.
	QuestionTypeSimple QuestionType = "simple"
	// QuestionTypeDetailed asks the user to itemize a longer stretch of time. It has no deadline.
	QuestionTypeDetailed QuestionType = "detailed"
	// QuestionTypeYesNo confirms a previously given answer for a whole gap.
	QuestionTypeYesNo QuestionType = "yes_no"
)

// Originator names identify which engine component created a popup.
const (
	OriginatorRegularTimer         = "RegularTimer"
	OriginatorLatestMissBackfiller = "LatestMissBackfiller"
	OriginatorDeepGapBackfiller    = "DeepGapBackfiller"
)

// SubmissionType tags the provenance of a response.
type SubmissionType string

const (
	// SubmissionTypeRegular is an answer to a scheduled popup.
	SubmissionTypeRegular SubmissionType = "regular"
	// SubmissionTypeDetailed is one itemized answer from a detailed popup.
	SubmissionTypeDetailed SubmissionType = "detailed"
	// SubmissionTypeManual is an answer to a popup opened on demand.
	SubmissionTypeManual SubmissionType = "manual"
	// SubmissionTypeSingleSlotBackfill re-answers one missed slot.
	SubmissionTypeSingleSlotBackfill SubmissionType = "single_slot_backfill"
	// SubmissionTypePastGapBackfill fills part or all of a reconstructed gap.
	SubmissionTypePastGapBackfill SubmissionType = "past_gap_backfill"
)

// Valid reports whether t is a known submission type.
func (t SubmissionType) Valid() bool {
	switch t {
	case SubmissionTypeRegular, SubmissionTypeDetailed, SubmissionTypeManual,
		SubmissionTypeSingleSlotBackfill, SubmissionTypePastGapBackfill:
		return true
	}
	return false
}

// Validation constants for input validation
const (
	// MaxResponseTextLength defines the maximum allowed length for a response text
	MaxResponseTextLength = 1024
)

var (
	ErrEmptyResponseText    = errors.New("response text cannot be empty")
	ErrResponseTextTooLong  = errors.New("response text exceeds maximum length")
	ErrInvalidBlockLength   = errors.New("time block length must be positive")
	ErrMissingTimeCollected = errors.New("time collected is required")
	ErrInvalidSubmission    = errors.New("unknown submission type")
)

// Popup is a single question shown to the user about one block of time.
type Popup struct {
	TimeCollected      time.Time    `json:"time_collected"`
	TimeBlockLengthMin int          `json:"time_block_length_min"`
	Question           string       `json:"question"`
	QuestionType       QuestionType `json:"question_type"`
	IsBackfill         bool         `json:"is_backfill"`
	OriginatorName     string       `json:"originator_name"`
	SuggestedResponse  string       `json:"suggested_response,omitempty"`

	// TimeQueued is stamped by the delivery queue when the popup has to wait.
	TimeQueued time.Time `json:"-"`
}

// End returns the exclusive end of the block the popup asks about.
func (p Popup) End() time.Time {
	return p.TimeCollected.Add(time.Duration(p.TimeBlockLengthMin) * time.Minute)
}

// Response is the user's answer for one block of time.
type Response struct {
	ResponseText       string         `json:"response_text"`
	TimeCollected      time.Time      `json:"time_collected"`
	TimeBlockLengthMin int            `json:"time_block_length_min"`
	SubmissionType     SubmissionType `json:"submission_type"`
}

// End returns the exclusive end of the block the response covers.
func (r Response) End() time.Time {
	return r.TimeCollected.Add(time.Duration(r.TimeBlockLengthMin) * time.Minute)
}

// Validate checks that the response can be persisted.
func (r Response) Validate() error {
	text := strings.TrimSpace(r.ResponseText)
	if text == "" {
		return ErrEmptyResponseText
	}
	if len(text) > MaxResponseTextLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrResponseTextTooLong, len(text), MaxResponseTextLength)
	}
	if r.TimeCollected.IsZero() {
		return ErrMissingTimeCollected
	}
	if r.TimeBlockLengthMin <= 0 {
		return ErrInvalidBlockLength
	}
	if !r.SubmissionType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSubmission, r.SubmissionType)
	}
	return nil
}
