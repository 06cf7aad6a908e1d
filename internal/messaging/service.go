// Package messaging connects the WhatsApp transports to the intent manager:
// it receives customer messages, drives the conversation and delivers replies.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/models"
)

const (
	// DefaultChannelBufferSize defines the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emitter waits on a full channel.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient and returns it
	// in "+digits" form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming customer messages.
	Responses() <-chan models.Response
}

// canonicalRecipient is shared by every Service implementation.
func canonicalRecipient(recipient string) (string, error) {
	return models.CanonicalPhone(recipient)
}
