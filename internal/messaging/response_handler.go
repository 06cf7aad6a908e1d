package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/store"
)

// MessageHandler produces the reply to one inbound message. The reply is
// delivered even when an error is returned.
type MessageHandler interface {
	HandleMessage(ctx context.Context, phone, message string) (string, error)
}

// replyPayload is the outbox payload of an OutboxKindReply message.
type replyPayload struct {
	Body string `json:"body"`
}

// Opts holds configuration options for the ResponseHandler.
type Opts struct {
	History      store.ConversationStore
	Dedup        store.DedupRepo
	Outbox       store.OutboxRepo
	PollInterval time.Duration
}

// Option defines a configuration option for the ResponseHandler.
type Option func(*Opts)

// WithHistory logs every inbound message and reply to history.
func WithHistory(history store.ConversationStore) Option {
	return func(o *Opts) {
		o.History = history
	}
}

// WithDedup drops redelivered messages by transport message id.
func WithDedup(dedup store.DedupRepo) Option {
	return func(o *Opts) {
		o.Dedup = dedup
	}
}

// WithOutbox queues replies durably instead of sending them inline.
func WithOutbox(outbox store.OutboxRepo, pollInterval time.Duration) Option {
	return func(o *Opts) {
		o.Outbox = outbox
		o.PollInterval = pollInterval
	}
}

// WithStore enables history, plus dedup and outbox when the backend supports them.
func WithStore(st store.Store) Option {
	return func(o *Opts) {
		o.History = st
		base := store.Underlying(st)
		if dedup, ok := base.(store.DedupRepo); ok {
			o.Dedup = dedup
		}
		if outbox, ok := base.(store.OutboxRepo); ok {
			o.Outbox = outbox
		}
	}
}

// ResponseHandler consumes a Service's inbound messages, runs them through a
// MessageHandler and delivers the replies.
type ResponseHandler struct {
	handler    MessageHandler
	msgService Service
	history    store.ConversationStore
	dedup      store.DedupRepo
	outbox     store.OutboxRepo
	sender     *store.OutboxSender
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(handler MessageHandler, msgService Service, opts ...Option) *ResponseHandler {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	rh := &ResponseHandler{
		handler:    handler,
		msgService: msgService,
		history:    cfg.History,
		dedup:      cfg.Dedup,
		outbox:     cfg.Outbox,
	}
	if rh.outbox != nil {
		rh.sender = store.NewOutboxSender(rh.outbox, rh.sendOutboxMessage, cfg.PollInterval)
	}
	return rh
}

// ProcessResponse handles one inbound message end to end.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	phone, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", response.From, err)
	}

	if rh.dedup != nil && response.MessageID != "" {
		isNew, err := rh.dedup.RecordInbound(response.MessageID, phone)
		if err != nil {
			slog.Warn("ResponseHandler.ProcessResponse: dedup check failed, processing anyway", "message_id", response.MessageID, "error", err)
		} else if !isNew {
			slog.Info("ResponseHandler.ProcessResponse: duplicate message dropped", "phone", phone, "message_id", response.MessageID)
			return nil
		}
	}

	RecordMessage(ctx, rh.history, phone, models.RoleUser, response.Body)

	reply, handleErr := rh.handler.HandleMessage(ctx, phone, response.Body)
	if handleErr != nil {
		slog.Error("ResponseHandler.ProcessResponse: handler failed", "phone", phone, "error", handleErr)
	}
	if reply != "" {
		if err := rh.deliver(ctx, phone, reply, response.MessageID); err != nil {
			return fmt.Errorf("failed to deliver reply to %s: %w", phone, err)
		}
		RecordMessage(ctx, rh.history, phone, models.RoleAssistant, reply)
	}

	if rh.dedup != nil && response.MessageID != "" {
		if err := rh.dedup.MarkProcessed(response.MessageID); err != nil {
			slog.Warn("ResponseHandler.ProcessResponse: failed to mark processed", "message_id", response.MessageID, "error", err)
		}
	}
	return handleErr
}

// deliver queues the reply on the outbox when one is configured, otherwise it
// sends it right away.
func (rh *ResponseHandler) deliver(ctx context.Context, phone, reply, messageID string) error {
	if rh.outbox == nil {
		return rh.msgService.SendMessage(ctx, phone, reply)
	}
	payload, err := json.Marshal(replyPayload{Body: reply})
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	dedupeKey := ""
	if messageID != "" {
		dedupeKey = "reply:" + messageID
	}
	id, err := rh.outbox.EnqueueOutboxMessage(phone, store.OutboxKindReply, string(payload), dedupeKey)
	if err != nil {
		return err
	}
	slog.Debug("ResponseHandler.deliver: reply queued", "phone", phone, "outbox_id", id)
	rh.sender.Wake()
	return nil
}

func (rh *ResponseHandler) sendOutboxMessage(ctx context.Context, msg store.OutboxMessage) error {
	if msg.Kind != store.OutboxKindReply {
		return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
	}
	var payload replyPayload
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("failed to decode outbox payload %s: %w", msg.ID, err)
	}
	return rh.msgService.SendMessage(ctx, msg.Phone, payload.Body)
}

// Start consumes responses and receipts until ctx is done or the service
// closes its channels. The outbox sender, when configured, runs alongside.
func (rh *ResponseHandler) Start(ctx context.Context) {
	if rh.sender != nil {
		if err := rh.sender.RecoverStaleMessages(); err != nil {
			slog.Warn("ResponseHandler.Start: outbox recovery failed", "error", err)
		}
		go rh.sender.Run(ctx)
	}
	go rh.drainReceipts(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Info("ResponseHandler.Start: responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler.Start: failed to process message", "from", response.From, "error", err)
				}
			}
		}
	}()
}

func (rh *ResponseHandler) drainReceipts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-rh.msgService.Receipts():
			if !ok {
				return
			}
			slog.Debug("ResponseHandler receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}
