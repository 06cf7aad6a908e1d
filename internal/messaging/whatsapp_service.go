package messaging

import (
	"context"
	"log/slog"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/whatsapp"
)

// WhatsAppService is a Service on a linked WhatsApp device. When the client is
// a real *whatsapp.Client, Start subscribes to its events so customer
// messages and delivery receipts show up on the channels.
type WhatsAppService struct {
	*eventHub
	client whatsapp.Sender
	device *whatsapp.Client
}

var _ Service = (*WhatsAppService)(nil)

func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{eventHub: newEventHub("WhatsAppService"), client: client}
	s.device, _ = client.(*whatsapp.Client)
	return s
}

// ValidateAndCanonicalizeRecipient returns the recipient in "+digits" form.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient(recipient)
}

func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.device == nil || s.device.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no linked device, inbound events disabled")
		return nil
	}
	s.device.GetClient().AddEventHandler(s.handleEvent)
	return nil
}

// SendMessage delivers body to the customer and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	return s.send(ctx, s.client, to, body)
}

func (s *WhatsAppService) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		s.onMessage(v)
	case *events.Receipt:
		s.onReceipt(v)
	case *events.LoggedOut:
		slog.Warn("WhatsAppService.handleEvent: device logged out, pair again to receive orders")
	case *events.Disconnected:
		slog.Warn("WhatsAppService.handleEvent: disconnected")
	}
}

// onMessage forwards direct text messages; groups, echoes of our own
// messages and media are dropped.
func (s *WhatsAppService) onMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, ok := messageText(evt.Message)
	if !ok {
		slog.Debug("WhatsAppService.onMessage: non-text message ignored", "from", evt.Info.Sender.User)
		return
	}
	s.emitResponse(models.Response{
		From:      "+" + evt.Info.Sender.User,
		Body:      text,
		Time:      evt.Info.Timestamp.Unix(),
		MessageID: evt.Info.ID,
	})
}

func messageText(m *waE2E.Message) (string, bool) {
	switch {
	case m == nil:
		return "", false
	case m.Conversation != nil:
		return m.GetConversation(), true
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText(), true
	}
	return "", false
}

var receiptStatus = map[events.ReceiptType]models.MessageStatus{
	events.ReceiptTypeDelivered: models.MessageStatusDelivered,
	events.ReceiptTypeRead:      models.MessageStatusRead,
}

func (s *WhatsAppService) onReceipt(evt *events.Receipt) {
	status, ok := receiptStatus[evt.Type]
	if !ok {
		return
	}
	s.emitReceipt(models.Receipt{To: "+" + evt.Sender.User, Status: status, Time: evt.Timestamp.Unix()})
}
