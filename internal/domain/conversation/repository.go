package conversation

import (
	"context"

	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// Repository persists conversations and messages.
type Repository interface {
	// Ensure creates the conversation row when it does not exist yet.
	Ensure(ctx context.Context, conversationID string) error

	// FindByID fetches a conversation.
	FindByID(ctx context.Context, conversationID string) (*Conversation, error)

	// CreateMessage inserts a message.
	CreateMessage(ctx context.Context, msg *Message) error

	// History returns the most recent messages, oldest first.
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Touch bumps the conversation's updated timestamp.
	Touch(ctx context.Context, conversationID string) error

	// HasNewerPublicReply reports whether a public assistant message newer
	// than the given trigger exists. Drives the continuation precondition.
	HasNewerPublicReply(ctx context.Context, conversationID string, after trigger.Trigger) (bool, error)
}
