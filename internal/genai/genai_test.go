package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/store"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(chat chatService, history store.ConversationStore) *Client {
	return &Client{
		chat:         chat,
		model:        "test-model",
		temperature:  0.1,
		maxTokens:    100,
		systemPrompt: BuildSystemPrompt("Pizzas:\n- Calabresa: R$ 40,00"),
		history:      history,
		historyLimit: 2,
	}
}

func TestGeneratePrompt_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("  Olá!  ")}
	client := newTestClient(mock, nil)
	out, err := client.GeneratePrompt(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Olá!" {
		t.Errorf("expected trimmed content, got %q", out)
	}
	if len(mock.params.Messages) != 2 || mock.params.Model != "test-model" {
		t.Errorf("unexpected request %+v", mock.params)
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")}, nil)
	_, err := client.GeneratePrompt(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	client := newTestClient(&mockChatService{resp: &openai.ChatCompletion{}}, nil)
	if _, err := client.GeneratePrompt(context.Background(), "sys", "usr"); !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestReply_UsesHistory(t *testing.T) {
	ctx := context.Background()
	const phone = "+5511999998888"
	history := store.NewInMemoryStore()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	lines := []models.ConversationMessage{
		{ID: "1", PhoneNumber: phone, Role: models.RoleUser, Content: "velho", Timestamp: base},
		{ID: "2", PhoneNumber: phone, Role: models.RoleUser, Content: "Oi", Timestamp: base.Add(time.Second)},
		{ID: "3", PhoneNumber: phone, Role: models.RoleAssistant, Content: "Olá! O que vai ser hoje?", Timestamp: base.Add(2 * time.Second)},
		{ID: "5", PhoneNumber: phone, Role: models.RoleUser, Content: "Uma calabresa", Timestamp: base.Add(4 * time.Second)},
	}
	for _, l := range lines {
		history.AddMessage(ctx, l)
	}

	mock := &mockChatService{resp: completion("Anotado!")}
	client := newTestClient(mock, history)
	reply, err := client.Reply(ctx, phone, "Uma calabresa")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply != "Anotado!" {
		t.Errorf("unexpected reply %q", reply)
	}

	// system + the last 2 history lines before the repeated inbound message + inbound.
	msgs := mock.params.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Errorf("unexpected message roles %+v", msgs)
	}
	if got := msgs[3].OfUser.Content.OfString.Value; got != "Uma calabresa" {
		t.Errorf("expected inbound message last, got %q", got)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt("Pizzas:\n- Calabresa: R$ 40,00\n")
	if !strings.Contains(prompt, "Pizza do Bill") || !strings.Contains(prompt, "Cardápio:\nPizzas:\n- Calabresa: R$ 40,00") {
		t.Errorf("unexpected prompt %q", prompt)
	}
	if strings.Contains(BuildSystemPrompt(""), "Cardápio:") {
		t.Error("empty menu must not add a menu section")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PIZZAPIPE_OPENAI_API_KEY", "")
	if _, err := NewClient(); !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithMenu("Pizzas"), WithHistory(store.NewInMemoryStore(), 0))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.historyLimit != DefaultHistoryLimit || cli.history == nil {
		t.Errorf("unexpected client config %+v", cli)
	}
}
