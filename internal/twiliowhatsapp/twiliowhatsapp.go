// Package twiliowhatsapp wraps the Twilio API for WhatsApp messaging in PizzaPipe.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/PizzaPipe/internal/util"
)

// WhatsAppPrefix is how Twilio addresses WhatsApp numbers.
const WhatsAppPrefix = "whatsapp:"

// Sender sends WhatsApp messages through Twilio (real client or mock).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts configures NewClient. FromWhats may carry the "whatsapp:" prefix or not.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the WhatsApp sender number.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client sends WhatsApp messages through the Twilio Messages API.
type Client struct {
	api       *twilio.RestClient
	fromWhats string
}

var _ Sender = (*Client)(nil)

// NewClient builds a Client. Options left empty are read from
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		AccountSID: util.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:  util.Getenv("TWILIO_AUTH_TOKEN"),
		FromWhats:  util.Getenv("TWILIO_FROM_NUMBER"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch {
	case cfg.AccountSID == "" || cfg.AuthToken == "":
		return nil, errors.New("twilio account SID and auth token are required")
	case cfg.FromWhats == "":
		return nil, errors.New("twilio WhatsApp sender number is required")
	}
	slog.Debug("twiliowhatsapp.NewClient: configured", "from", Address(cfg.FromWhats))

	api := twilio.NewRestClientWithParams(twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken})
	return &Client{api: api, fromWhats: Address(cfg.FromWhats)}, nil
}

// Address returns number in Twilio's "whatsapp:+digits" form.
func Address(number string) string {
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	return WhatsAppPrefix + number
}

// SendMessage posts body to the customer's WhatsApp number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := (&twilioApi.CreateMessageParams{}).
		SetTo(Address(to)).
		SetFrom(c.fromWhats).
		SetBody(body)

	msg, err := c.api.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send to %s failed: %w", to, err)
	}
	if msg != nil && msg.Sid != nil {
		slog.Debug("Client.SendMessage: accepted by Twilio", "to", to, "sid", *msg.Sid)
	}
	return nil
}

// RenderTwiML renders a synchronous webhook reply, attaching mediaURL when it
// is not empty. With neither a body nor media the result is an empty
// <Response/>, which tells Twilio not to answer.
func RenderTwiML(body, mediaURL string) (string, error) {
	var elems []twiml.Element
	if body != "" || mediaURL != "" {
		msg := &twiml.MessagingMessage{Body: body}
		if mediaURL != "" {
			msg.InnerElements = []twiml.Element{&twiml.MessagingMedia{Url: mediaURL}}
		}
		elems = append(elems, msg)
	}
	out, err := twiml.Messages(elems)
	if err != nil {
		return "", fmt.Errorf("failed to render TwiML: %w", err)
	}
	return out, nil
}

// MockClient captures messages in memory. Set Err to make sends fail.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

var _ Sender = (*MockClient)(nil)

// ErrMockSend is a convenience error for failing mocks.
var ErrMockSend = errors.New("mock send failure")

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the captured messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
