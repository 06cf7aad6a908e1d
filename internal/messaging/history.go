package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/store"
)

// RecordMessage appends one message to the conversation log of phone. Failures
// are logged and swallowed: losing a history line must not lose the reply.
func RecordMessage(ctx context.Context, history store.ConversationStore, phone string, role models.MessageRole, content string) {
	if history == nil || content == "" {
		return
	}
	msg := models.ConversationMessage{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Role:        role,
		Content:     content,
		Timestamp:   time.Now().UTC(),
	}
	if err := history.AddMessage(ctx, msg); err != nil {
		slog.Warn("RecordMessage: failed to store conversation message", "phone", phone, "role", role, "error", err)
	}
}
