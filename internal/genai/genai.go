// Package genai answers registered customers through the OpenAI chat API,
// grounded on the pizzeria menu and the customer's conversation history.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/store"
	"github.com/BTreeMap/PizzaPipe/internal/util"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTemperature keeps answers close to the menu.
	DefaultTemperature = 0.3
	// DefaultMaxCompletionTokens bounds a single WhatsApp reply.
	DefaultMaxCompletionTokens = 500
	// DefaultHistoryLimit is how many past messages are sent as context.
	DefaultHistoryLimit = 20
)

// ErrNoChoicesReturned is returned when the API answers without choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrAPIKeyNotSet is returned when neither WithAPIKey nor OPENAI_API_KEY provide a key.
var ErrAPIKeyNotSet = errors.New("OPENAI_API_KEY not set")

// chatService defines the subset of the chat completions API the client uses.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int64
	MenuText     string                  // appended to the system prompt
	History      store.ConversationStore // optional conversation context
	HistoryLimit int
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithMenu gives the assistant the menu it may sell from.
func WithMenu(menuText string) Option {
	return func(o *Opts) { o.MenuText = menuText }
}

// WithHistory feeds up to limit past messages as context.
func WithHistory(history store.ConversationStore, limit int) Option {
	return func(o *Opts) {
		o.History = history
		o.HistoryLimit = limit
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat         chatService
	model        string
	temperature  float64
	maxTokens    int64
	systemPrompt string
	history      store.ConversationStore
	historyLimit int
}

// NewClient creates a Client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxCompletionTokens,
		HistoryLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = util.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:         &cli.Chat.Completions,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: BuildSystemPrompt(cfg.MenuText),
		history:      cfg.History,
		historyLimit: cfg.HistoryLimit,
	}, nil
}

// BuildSystemPrompt returns the assistant instructions for menuText.
func BuildSystemPrompt(menuText string) string {
	var b strings.Builder
	b.WriteString("Você é o atendente virtual da Pizza do Bill no WhatsApp. ")
	b.WriteString("Responda sempre em português do Brasil, de forma curta e simpática. ")
	b.WriteString("Ajude o cliente a escolher pizzas (inteiras ou meio a meio) e bebidas, ")
	b.WriteString("informe preços em reais no formato R$ 0,00 e ao final resuma o pedido com o total. ")
	b.WriteString("Pizzas meio a meio custam o valor do sabor mais caro. ")
	b.WriteString("Nunca ofereça itens que não estão no cardápio.")
	if menuText = strings.TrimSpace(menuText); menuText != "" {
		b.WriteString("\n\nCardápio:\n")
		b.WriteString(menuText)
	}
	return b.String()
}

// GeneratePrompt answers userPrompt under systemPrompt without history.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// Reply answers a registered customer. It implements intent.Assistant.
func (c *Client) Reply(ctx context.Context, phone, message string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(c.systemPrompt)}
	messages = append(messages, c.historyMessages(ctx, phone, message)...)
	messages = append(messages, openai.UserMessage(message))
	return c.complete(ctx, messages)
}

// historyMessages converts the recent conversation of phone. The inbound
// message may already be logged; it is not repeated.
func (c *Client) historyMessages(ctx context.Context, phone, message string) []openai.ChatCompletionMessageParamUnion {
	if c.history == nil {
		return nil
	}
	conv, err := c.history.GetConversation(ctx, phone)
	if err != nil {
		slog.Warn("genai.Client.Reply: history unavailable", "phone", phone, "error", err)
		return nil
	}
	if n := len(conv); n > 0 && conv[n-1].Role == models.RoleUser && conv[n-1].Content == message {
		conv = conv[:n-1]
	}
	if len(conv) > c.historyLimit {
		conv = conv[len(conv)-c.historyLimit:]
	}

	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv))
	for _, msg := range conv {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		}
	}
	return out
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai.Client: completion received", "model", c.model, "length", len(content))
	return content, nil
}
