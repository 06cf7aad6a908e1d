package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/intent"
	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/store"
	"github.com/BTreeMap/PizzaPipe/internal/twiliowhatsapp"
)

const testPhone = "+5511999998888"

// echoHandler replies with the received message, or fails when err is set.
type echoHandler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (h *echoHandler) HandleMessage(ctx context.Context, phone, message string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, phone+": "+message)
	if h.err != nil {
		return intent.InternalErrorReply, h.err
	}
	return "eco: " + message, nil
}

func (h *echoHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func TestProcessResponse_SendsReplyDirectly(t *testing.T) {
	ctx := context.Background()
	mock := twiliowhatsapp.NewMockClient()
	history := store.NewInMemoryStore()
	handler := &echoHandler{}
	rh := NewResponseHandler(handler, NewTwilioService(mock), WithHistory(history))

	if err := rh.ProcessResponse(ctx, models.Response{From: "whatsapp:" + testPhone, Body: "Oi"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != "eco: Oi" || sent[0].To != testPhone {
		t.Fatalf("unexpected sent messages %+v", sent)
	}

	conv, _ := history.GetConversation(ctx, testPhone)
	if len(conv) != 2 || conv[0].Role != models.RoleUser || conv[1].Content != "eco: Oi" {
		t.Errorf("expected both sides of the exchange in history, got %+v", conv)
	}
}

func TestProcessResponse_HandlerErrorStillReplies(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	boom := errors.New("database down")
	rh := NewResponseHandler(&echoHandler{err: boom}, NewTwilioService(mock))

	err := rh.ProcessResponse(context.Background(), models.Response{From: testPhone, Body: "Oi"})
	if !errors.Is(err, boom) {
		t.Errorf("expected handler error to surface, got %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != intent.InternalErrorReply {
		t.Errorf("expected the apology reply, got %+v", sent)
	}
}

func TestProcessResponse_InvalidSender(t *testing.T) {
	handler := &echoHandler{}
	rh := NewResponseHandler(handler, NewTwilioService(twiliowhatsapp.NewMockClient()))
	if err := rh.ProcessResponse(context.Background(), models.Response{From: "nobody", Body: "Oi"}); err == nil {
		t.Error("expected error for invalid sender")
	}
	if handler.callCount() != 0 {
		t.Error("handler must not run for an invalid sender")
	}
}

func TestProcessResponse_DropsDuplicates(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	st := store.NewInMemoryStore()
	handler := &echoHandler{}
	rh := NewResponseHandler(handler, NewTwilioService(mock), WithHistory(st), WithDedup(st))

	msg := models.Response{From: testPhone, Body: "Oi", MessageID: "SM1"}
	for i := 0; i < 3; i++ {
		if err := rh.ProcessResponse(context.Background(), msg); err != nil {
			t.Fatalf("ProcessResponse %d failed: %v", i, err)
		}
	}
	if handler.callCount() != 1 {
		t.Errorf("expected one handled message, got %d", handler.callCount())
	}
	if len(mock.Sent()) != 1 {
		t.Errorf("expected one reply, got %d", len(mock.Sent()))
	}

	// Messages without a transport id are never deduplicated.
	rh.ProcessResponse(context.Background(), models.Response{From: testPhone, Body: "Oi"})
	rh.ProcessResponse(context.Background(), models.Response{From: testPhone, Body: "Oi"})
	if handler.callCount() != 3 {
		t.Errorf("expected id-less messages to be handled, got %d calls", handler.callCount())
	}
}

func TestProcessResponse_QueuesOnOutbox(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	st := store.NewInMemoryStore()
	rh := NewResponseHandler(&echoHandler{}, NewTwilioService(mock), WithStore(st))

	if err := rh.ProcessResponse(context.Background(), models.Response{From: testPhone, Body: "Oi", MessageID: "SM9"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if len(mock.Sent()) != 0 {
		t.Fatal("reply must wait for the outbox sender")
	}

	msgs, err := st.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one queued reply, got %d, %v", len(msgs), err)
	}
	if msgs[0].DedupeKey != "reply:SM9" || !strings.Contains(msgs[0].PayloadJSON, "eco: Oi") {
		t.Errorf("unexpected outbox message %+v", msgs[0])
	}

	if err := rh.sendOutboxMessage(context.Background(), msgs[0]); err != nil {
		t.Fatalf("sendOutboxMessage failed: %v", err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].Body != "eco: Oi" {
		t.Errorf("unexpected sent messages %+v", sent)
	}
}

func TestSendOutboxMessage_RejectsUnknownPayloads(t *testing.T) {
	rh := NewResponseHandler(&echoHandler{}, NewTwilioService(twiliowhatsapp.NewMockClient()))
	if err := rh.sendOutboxMessage(context.Background(), store.OutboxMessage{Kind: "poll", Phone: testPhone, PayloadJSON: `{}`}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if err := rh.sendOutboxMessage(context.Background(), store.OutboxMessage{Kind: store.OutboxKindReply, Phone: testPhone, PayloadJSON: `{`}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestResponseHandler_StartDeliversThroughOutbox(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	st := store.NewInMemoryStore()
	rh := NewResponseHandler(&echoHandler{}, svc, WithStore(st))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rh.Start(ctx)

	svc.emitResponse(models.Response{From: testPhone, Body: "Quero pizza", MessageID: "SM2"})

	deadline := time.After(2 * time.Second)
	for len(mock.Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("expected the reply to be delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := mock.Sent()[0].Body; got != "eco: Quero pizza" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestRecordMessage(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	RecordMessage(ctx, st, testPhone, models.RoleUser, "Oi")
	RecordMessage(ctx, st, testPhone, models.RoleAssistant, "")
	RecordMessage(ctx, nil, testPhone, models.RoleUser, "ignored")

	conv, _ := st.GetConversation(ctx, testPhone)
	if len(conv) != 1 || conv[0].ID == "" || conv[0].Content != "Oi" {
		t.Errorf("unexpected conversation %+v", conv)
	}
}
