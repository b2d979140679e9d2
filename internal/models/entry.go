package models

import "time"

// Entry is a previously recorded time block, as returned by the entry store.
type Entry struct {
	ID                 string         `json:"id"`
	ResponseText       string         `json:"response_text"`
	TimeCollected      time.Time      `json:"time_collected"`
	TimeBlockLengthMin int            `json:"time_block_length_min"`
	SubmissionType     SubmissionType `json:"submission_type"`
	CreatedAt          time.Time      `json:"created_at"`
}

// End returns the exclusive end of the recorded block.
func (e Entry) End() time.Time {
	return e.TimeCollected.Add(time.Duration(e.TimeBlockLengthMin) * time.Minute)
}

// EntryFromResponse converts an accepted response into an entry ready to be stored.
func EntryFromResponse(id string, r Response, createdAt time.Time) Entry {
	return Entry{
		ID:                 id,
		ResponseText:       r.ResponseText,
		TimeCollected:      r.TimeCollected,
		TimeBlockLengthMin: r.TimeBlockLengthMin,
		SubmissionType:     r.SubmissionType,
		CreatedAt:          createdAt,
	}
}

// AccountType is the only account attribute the engine looks at.
type AccountType string

const (
	AccountTypeTrial   AccountType = "trial"
	AccountTypePaid    AccountType = "paid"
	AccountTypeExpired AccountType = "expired"
)

// User is the account the engine prompts on behalf of.
type User struct {
	ID          string      `json:"id"`
	AccountType AccountType `json:"account_type"`
}

// CanReceivePopups gates all scheduled prompting.
func (u User) CanReceivePopups() bool {
	return u.AccountType == AccountTypeTrial || u.AccountType == AccountTypePaid
}
