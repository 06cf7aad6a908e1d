package store

import "time"

// DedupRecord tracks one inbound message id (Twilio MessageSid or WhatsApp
// message id) so a redelivered webhook is answered only once.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Phone       string     `json:"phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo is implemented by backends that remember inbound message ids.
type DedupRepo interface {
	IsDuplicate(messageID string) (bool, error)
	// RecordInbound reports false when messageID was already recorded.
	RecordInbound(messageID, phone string) (bool, error)
	MarkProcessed(messageID string) error
	// PurgeProcessed forgets records processed before the cutoff.
	PurgeProcessed(before time.Time) (int, error)
}

// OutboxStatus is the delivery state of a queued reply.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusFailed   OutboxStatus = "failed"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// OutboxKindReply marks chat replies produced by the conversation engine.
const OutboxKindReply = "reply"

// OutboxMessage is a reply waiting to be delivered to a customer.
type OutboxMessage struct {
	ID            string       `json:"id"`
	Phone         string       `json:"phone"`
	Kind          string       `json:"kind"`
	PayloadJSON   string       `json:"payload_json"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
	DedupeKey     string       `json:"dedupe_key"`
	LockedAt      *time.Time   `json:"locked_at"`
	LastError     string       `json:"last_error"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxRepo keeps replies until the transport accepts them, so a Twilio
// outage or a restart does not drop an order summary.
type OutboxRepo interface {
	// EnqueueOutboxMessage returns the id of a pending message with the same
	// non-empty dedupeKey instead of queueing a second copy.
	EnqueueOutboxMessage(phone, kind, payloadJSON, dedupeKey string) (string, error)
	// ClaimDueOutboxMessages marks up to limit due messages as sending.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)
	MarkOutboxMessageSent(id string) error
	// FailOutboxMessage requeues id for another attempt at nextAttemptAt.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error
	// RequeueStaleSendingMessages returns messages claimed before staleBefore
	// (a crash mid-send) to the queue.
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)
}
