package messaging

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/twiliowhatsapp"
)

// TwilioService is a Service sending through the Twilio WhatsApp API.
// Customer messages reach it through TwilioWebhookHandler.
type TwilioService struct {
	*eventHub
	client twiliowhatsapp.Sender
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService returns a TwilioService sending through client, which may
// be a twiliowhatsapp.MockClient in tests.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{eventHub: newEventHub("TwilioService"), client: client}
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+55...", "+55..." or bare digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalRecipient(recipient)
}

// Start does nothing: Twilio pushes inbound messages to the webhook.
func (s *TwilioService) Start(ctx context.Context) error { return nil }

// SendMessage delivers body to the customer and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	return s.send(ctx, s.client, to, body)
}

// TwilioWebhookHandler accepts an inbound Twilio message and queues it on
// Responses(). The reply is sent later through the API, so the webhook answers
// with an empty TwiML document.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService.TwilioWebhookHandler: unreadable form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	from, body := r.PostFormValue("From"), r.PostFormValue("Body")
	if from == "" || body == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	phone, err := canonicalRecipient(from)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	queued := s.emitResponse(models.Response{
		From:      phone,
		Body:      body,
		Time:      time.Now().Unix(),
		MessageID: r.PostFormValue("MessageSid"),
	})
	if !queued {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	slog.Info("TwilioService.TwilioWebhookHandler: message queued", "from", phone, "body_length", len(body))

	twiml, err := twiliowhatsapp.RenderTwiML("", "")
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(twiml))
}
