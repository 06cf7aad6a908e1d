package store

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultOutboxPollInterval   = time.Second
	DefaultOutboxStaleThreshold = 5 * time.Minute
	DefaultOutboxClaimLimit     = 10
	// DefaultOutboxMaxAttempts bounds retries of one reply before it is parked.
	DefaultOutboxMaxAttempts = 6

	outboxFirstRetry = 10 * time.Second
	outboxParkedFor  = 100 * 365 * 24 * time.Hour
)

// OutboxSendFunc delivers one queued reply.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender drains the outbox: it claims replies that are due, hands them
// to the send function and records the outcome.
type OutboxSender struct {
	repo           OutboxRepo
	send           OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	wake           chan struct{}
}

// NewOutboxSender returns a sender polling repo every pollInterval
// (DefaultOutboxPollInterval when not positive).
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, pollInterval time.Duration) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	return &OutboxSender{
		repo:           repo,
		send:           send,
		pollInterval:   pollInterval,
		staleThreshold: DefaultOutboxStaleThreshold,
		claimLimit:     DefaultOutboxClaimLimit,
		maxAttempts:    DefaultOutboxMaxAttempts,
		wake:           make(chan struct{}, 1),
	}
}

// RecoverStaleMessages puts replies left in "sending" by a previous process
// back in the queue. Call it once before Run.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: replies requeued", "count", n)
	}
	return nil
}

// Wake triggers a drain without waiting for the next tick. It never blocks.
func (s *OutboxSender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: started", "poll_interval", s.pollInterval)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopped")
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

func (s *OutboxSender) drain(ctx context.Context) {
	now := time.Now()
	due, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.drain: claim failed", "error", err)
		return
	}
	for _, msg := range due {
		s.deliver(ctx, msg, now)
	}
}

func (s *OutboxSender) deliver(ctx context.Context, msg OutboxMessage, now time.Time) {
	sendErr := s.send(ctx, msg)
	if sendErr == nil {
		if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
			slog.Error("OutboxSender.deliver: mark sent failed", "id", msg.ID, "error", err)
			return
		}
		slog.Debug("OutboxSender.deliver: reply sent", "id", msg.ID, "phone", msg.Phone)
		return
	}

	attempt := msg.Attempts + 1
	next := now.Add(retryDelay(msg.Attempts))
	if attempt >= s.maxAttempts {
		// Parked; an operator requeues it by hand.
		next = now.Add(outboxParkedFor)
		slog.Warn("OutboxSender.deliver: giving up on reply", "id", msg.ID, "phone", msg.Phone, "attempts", attempt)
	} else {
		slog.Error("OutboxSender.deliver: send failed", "id", msg.ID, "attempt", attempt, "error", sendErr)
	}
	if err := s.repo.FailOutboxMessage(msg.ID, sendErr.Error(), next); err != nil {
		slog.Error("OutboxSender.deliver: record failure failed", "id", msg.ID, "error", err)
	}
}

// retryDelay doubles from outboxFirstRetry with each previous attempt.
func retryDelay(previousAttempts int) time.Duration {
	return outboxFirstRetry << previousAttempts
}
