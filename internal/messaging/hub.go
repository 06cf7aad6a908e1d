package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// transportSender is the send half of the Twilio and whatsmeow clients.
type transportSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// eventHub owns the receipt and response channels of a transport-backed
// Service. Emitters hold the read lock so Stop never closes a channel that is
// being written.
type eventHub struct {
	name      string
	receipts  chan models.Receipt
	responses chan models.Response
	mu        sync.RWMutex
	stopped   bool
}

func newEventHub(name string) *eventHub {
	return &eventHub{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

// Receipts returns sent, delivered and read receipts.
func (h *eventHub) Receipts() <-chan models.Receipt { return h.receipts }

// Responses returns incoming customer messages.
func (h *eventHub) Responses() <-chan models.Response { return h.responses }

// Stop closes both channels. Later calls are no-ops.
func (h *eventHub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.receipts)
	close(h.responses)
	slog.Info(h.name + ".Stop: channels closed")
	return nil
}

func (h *eventHub) isStopped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stopped
}

// send canonicalizes to, sends through client and emits a sent receipt.
func (h *eventHub) send(ctx context.Context, client transportSender, to, body string) error {
	if h.isStopped() {
		return ErrServiceStopped
	}
	phone, err := canonicalRecipient(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	if err := client.SendMessage(ctx, phone, body); err != nil {
		slog.Error(h.name+".SendMessage: send failed", "to", phone, "error", err)
		return err
	}
	h.emitReceipt(models.Receipt{To: phone, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

func (h *eventHub) emitReceipt(r models.Receipt) bool {
	return emit(h, h.receipts, r, "receipt", r.To)
}

func (h *eventHub) emitResponse(r models.Response) bool {
	return emit(h, h.responses, r, "response", r.From)
}

// emit waits up to DefaultChannelTimeout for room on ch and reports whether
// v was queued.
func emit[T any](h *eventHub, ch chan T, v T, kind, phone string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return false
	}
	timer := time.NewTimer(DefaultChannelTimeout)
	defer timer.Stop()
	select {
	case ch <- v:
		return true
	case <-timer.C:
		slog.Warn(h.name+": channel full, dropping "+kind, "phone", phone, "timeout", DefaultChannelTimeout)
		return false
	}
}
