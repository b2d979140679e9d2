// Package submit is the engine's submission channel. Accepted responses are
// written to the durable outbox; the outbox sender later persists them as entries
// and refreshes the engine's historical view.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/popup"
	"github.com/BTreeMap/PingPipe/internal/store"
)

// KindResponses is the outbox message kind carrying accepted responses.
const KindResponses = "responses"

// Payload is the JSON body of a KindResponses outbox message.
type Payload struct {
	UserID    string            `json:"user_id"`
	Responses []models.Response `json:"responses"`
}

// Channel implements popup.Submitter on top of an outbox.
type Channel struct {
	outbox store.OutboxRepo
	notify func()

	mu     sync.Mutex
	userID string
}

// Compile-time check that Channel implements popup.Submitter.
var _ popup.Submitter = (*Channel)(nil)

// Option configures a Channel.
type Option func(*Channel)

// WithUserID sets the user the submissions belong to.
func WithUserID(id string) Option {
	return func(c *Channel) { c.userID = id }
}

// WithNotify sets a callback run after each successful enqueue, typically
// OutboxSender.Trigger.
func WithNotify(fn func()) Option {
	return func(c *Channel) { c.notify = fn }
}

// NewChannel creates a submission channel writing to outbox.
func NewChannel(outbox store.OutboxRepo, opts ...Option) *Channel {
	c := &Channel{outbox: outbox}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetUserID changes the user future submissions are recorded for.
func (c *Channel) SetUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

// Submit validates the responses and enqueues the valid ones. Failures are logged;
// the engine never hears about them.
func (c *Channel) Submit(responses []models.Response) {
	valid := make([]models.Response, 0, len(responses))
	for _, r := range responses {
		if err := r.Validate(); err != nil {
			slog.Warn("Channel.Submit: dropping invalid response", "error", err, "timeCollected", r.TimeCollected)
			continue
		}
		r.ResponseText = strings.TrimSpace(r.ResponseText)
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return
	}

	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	body, err := json.Marshal(Payload{UserID: userID, Responses: valid})
	if err != nil {
		slog.Error("Channel.Submit: failed to marshal payload", "error", err)
		return
	}
	id, err := c.outbox.EnqueueOutboxMessage(userID, KindResponses, string(body), "")
	if err != nil {
		slog.Error("Channel.Submit: failed to enqueue responses", "error", err, "count", len(valid))
		return
	}
	slog.Info("Channel.Submit: responses queued", "outboxID", id, "count", len(valid))
	if c.notify != nil {
		c.notify()
	}
}

// Deliver returns the outbox send function that stores a message's responses as
// entries and then calls onStored. Entry IDs derive from the outbox message ID, so
// redelivering a message never duplicates entries.
func Deliver(entries store.Store, onStored func()) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != KindResponses {
			return fmt.Errorf("unsupported outbox message kind %q", msg.Kind)
		}
		var p Payload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("failed to decode outbox payload %s: %w", msg.ID, err)
		}

		batch := make([]models.Entry, 0, len(p.Responses))
		for i, r := range p.Responses {
			id := fmt.Sprintf("e_%s_%d", strings.TrimPrefix(msg.ID, "outbox_"), i)
			batch = append(batch, models.EntryFromResponse(id, r, msg.CreatedAt))
		}
		if err := entries.AddEntries(batch); err != nil {
			return fmt.Errorf("failed to store entries for %s: %w", msg.ID, err)
		}
		slog.Debug("Deliver: entries stored", "outboxID", msg.ID, "count", len(batch))
		if onStored != nil {
			onStored()
		}
		return nil
	}
}
