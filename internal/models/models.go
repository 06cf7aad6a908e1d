// Package models defines the core data structures for PizzaPipe.
//
// It includes user records, conversation history entries, inbound responses and
// delivery receipts, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// Phone number limits (E.164 allows at most 15 digits).
const (
	MinPhoneDigits = 8
	MaxPhoneDigits = 15
)

// MaxMessageLength bounds message bodies accepted through the API.
const MaxMessageLength = 4096

// Error variables for better error handling and testability
var (
	ErrEmptyPhone      = errors.New("phone number cannot be empty")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrEmptyBody       = errors.New("message body cannot be empty")
	ErrBodyTooLong     = errors.New("message body exceeds maximum length")
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidRole     = errors.New("invalid message role")
	ErrMissingUserData = errors.New("user record is missing required fields")
)

// CanonicalPhone normalises a phone number to "+<digits>". It accepts the
// "whatsapp:" prefix used by Twilio and any punctuation between digits.
func CanonicalPhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "whatsapp:")
	if raw == "" {
		return "", ErrEmptyPhone
	}

	var digits strings.Builder
	for _, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", ErrInvalidPhone
		}
	}
	n := digits.Len()
	if n < MinPhoneDigits || n > MaxPhoneDigits {
		return "", ErrInvalidPhone
	}
	return "+" + digits.String(), nil
}

// User is a registered customer, created once sign-up completes.
type User struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Address     string    `json:"address"`
	Birthdate   string    `json:"birthdate"` // DD/MM/YYYY as typed by the user
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that every sign-up field is present.
func (u *User) Validate() error {
	if u.PhoneNumber == "" {
		return ErrEmptyPhone
	}
	if u.Name == "" || u.Email == "" || u.Address == "" || u.Birthdate == "" {
		return ErrMissingUserData
	}
	return nil
}

// MessageRole identifies who wrote a conversation message.
type MessageRole string

const (
	// RoleUser marks messages sent by the customer.
	RoleUser MessageRole = "user"
	// RoleAssistant marks replies produced by PizzaPipe.
	RoleAssistant MessageRole = "assistant"
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r MessageRole) bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationMessage is one entry of a phone number's chat history.
type ConversationMessage struct {
	ID          string      `json:"id"`
	PhoneNumber string      `json:"phone_number"`
	Role        MessageRole `json:"role"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SendMessageRequest is the payload for posting a message into a conversation.
type SendMessageRequest struct {
	Body string `json:"body"`
}

// Validate performs basic validation on the request body.
func (r *SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxMessageLength {
		return ErrBodyTooLong
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt reports the delivery state of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a customer.
type Response struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Time      int64  `json:"time"`
	MessageID string `json:"message_id,omitempty"` // transport id, used for deduplication
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
