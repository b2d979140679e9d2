package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc delivers one claimed outbox message. A returned error schedules a retry.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// Outbox sender defaults
const (
	DefaultOutboxPollInterval = 5 * time.Second
	// MaxOutboxBackoff caps the retry delay of a failing message.
	MaxOutboxBackoff = 10 * time.Minute
)

// OutboxSender claims due outbox messages and hands them to a send function,
// either on its poll interval or as soon as Trigger is called.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	wake           chan struct{}
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		wake:           make(chan struct{}, 1),
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Trigger asks the running sender to poll now. It never blocks.
func (s *OutboxSender) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx, time.Now())
		case <-s.wake:
			s.Poll(ctx, time.Now())
		}
	}
}

// Poll delivers every message due at now and returns how many were delivered.
func (s *OutboxSender) Poll(ctx context.Context, now time.Time) int {
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	delivered := 0
	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: delivering message", "id", msg.ID, "userID", msg.UserID, "kind", msg.Kind, "attempts", msg.Attempts)
		if err := s.sendFunc(ctx, msg); err != nil {
			next := now.Add(Backoff(msg.Attempts))
			slog.Error("OutboxSender.Poll: delivery failed", "id", msg.ID, "error", err, "nextAttempt", next)
			if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), next); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Backoff returns the retry delay after the given number of failed attempts:
// 10s, 20s, 40s, ... capped at MaxOutboxBackoff.
func Backoff(attempts int) time.Duration {
	if attempts > 16 {
		return MaxOutboxBackoff
	}
	d := time.Duration(10*(1<<attempts)) * time.Second
	if d > MaxOutboxBackoff {
		return MaxOutboxBackoff
	}
	return d
}
