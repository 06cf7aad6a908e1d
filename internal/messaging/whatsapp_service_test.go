package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/whatsapp"
)

func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "whatsapp:+5511999998888", "Oi"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if sent := mockClient.Sent(); len(sent) != 1 || sent[0] != "+5511999998888: Oi" {
		t.Errorf("expected canonical recipient, got %v", sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "+5511999998888" || receipt.Status != models.MessageStatusSent {
			t.Errorf("unexpected receipt %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessageError(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	mockClient.Err = whatsapp.ErrMockSend
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+5511999998888", "Oi"); !errors.Is(err, whatsapp.ErrMockSend) {
		t.Errorf("expected ErrMockSend, got %v", err)
	}
	select {
	case r := <-svc.Receipts():
		t.Errorf("no receipt expected for a failed send, got %+v", r)
	default:
	}
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "+5511999998888", "Oi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func textMessage(id, user, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID(user, types.DefaultUserServer),
				Chat:   types.NewJID(user, types.DefaultUserServer),
			},
			ID:        id,
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(textMessage("ABC123", "5511999998888", "Quero uma pizza"))

	extended := textMessage("ABC124", "5511999998888", "")
	extended.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("De calabresa")}}
	svc.handleEvent(extended)

	fromMe := textMessage("ABC125", "5511999998888", "eco")
	fromMe.Info.IsFromMe = true
	svc.handleEvent(fromMe)

	group := textMessage("ABC126", "5511999998888", "grupo")
	group.Info.IsGroup = true
	svc.handleEvent(group)

	image := textMessage("ABC127", "5511999998888", "")
	image.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
	svc.handleEvent(image)

	first := <-svc.Responses()
	if first.From != "+5511999998888" || first.Body != "Quero uma pizza" || first.MessageID != "ABC123" || first.Time != 1700000000 {
		t.Errorf("unexpected response %+v", first)
	}
	second := <-svc.Responses()
	if second.Body != "De calabresa" {
		t.Errorf("expected extended text, got %+v", second)
	}
	select {
	case r := <-svc.Responses():
		t.Errorf("unexpected extra response %+v", r)
	default:
	}
}

func TestWhatsAppService_HandleReceipt(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	source := types.MessageSource{Sender: types.NewJID("5511999998888", types.DefaultUserServer)}

	svc.handleEvent(&events.Receipt{MessageSource: source, Type: events.ReceiptTypeRead, Timestamp: time.Unix(1700000000, 0)})
	svc.handleEvent(&events.Receipt{MessageSource: source, Type: events.ReceiptTypeReadSelf})

	receipt := <-svc.Receipts()
	if receipt.To != "+5511999998888" || receipt.Status != models.MessageStatusRead {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	select {
	case r := <-svc.Receipts():
		t.Errorf("self-read receipt must be ignored, got %+v", r)
	default:
	}
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
		ok   bool
	}{
		{"nil", nil, "", false},
		{"conversation", &waE2E.Message{Conversation: proto.String("Oi")}, "Oi", true},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("Calabresa")}}, "Calabresa", true},
		{"empty extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{}}, "", false},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := messageText(tt.msg)
			if got != tt.want || ok != tt.ok {
				t.Errorf("messageText() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
