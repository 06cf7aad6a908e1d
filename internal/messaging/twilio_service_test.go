package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/twiliowhatsapp"
)

func postWebhook(svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	return rec
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+55 11 99999-8888", "Oi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "+5511999998888" {
		t.Errorf("expected canonical recipient, got %+v", sent)
	}
	if r := <-svc.Receipts(); r.Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt %+v", r)
	}

	if err := svc.SendMessage(context.Background(), "abc", "Oi"); err == nil {
		t.Error("expected error for invalid recipient")
	}
}

func TestTwilioService_Webhook(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	rec := postWebhook(svc, url.Values{
		"From":       {"whatsapp:+5511999998888"},
		"Body":       {"Oi"},
		"MessageSid": {"SM123"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Response") || strings.Contains(rec.Body.String(), "<Message") {
		t.Errorf("expected empty TwiML, got %s", rec.Body.String())
	}

	got := <-svc.Responses()
	if got.From != "+5511999998888" || got.Body != "Oi" || got.MessageID != "SM123" {
		t.Errorf("unexpected response %+v", got)
	}
}

func TestTwilioService_WebhookRejectsBadRequests(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		name string
		form url.Values
	}{
		{"missing body", url.Values{"From": {"whatsapp:+5511999998888"}}},
		{"missing from", url.Values{"Body": {"Oi"}}},
		{"invalid sender", url.Values{"From": {"whatsapp:"}, "Body": {"Oi"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postWebhook(svc, tt.form); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestTwilioService_WebhookAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	svc.Stop()
	rec := postWebhook(svc, url.Values{"From": {"+5511999998888"}, "Body": {"Oi"}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after Stop, got %d", rec.Code)
	}
	if err := svc.SendMessage(context.Background(), "+5511999998888", "Oi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
