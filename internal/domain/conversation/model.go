// Package conversation holds the conversation and message models the
// dispatcher reads and writes. Full conversation CRUD lives with the support
// dashboard; this service only needs the slice below.
package conversation

import (
	"time"

	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// Role identifies the author of a message.
type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleTeam      Role = "team"
	RoleAssistant Role = "assistant"
)

// Conversation is the support thread the agent participates in.
type Conversation struct {
	ID        string
	Subject   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one entry in a conversation. TriggerID links the message to the
// trigger it spawned (inbound) or the trigger that produced it (assistant).
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Visibility     trigger.Visibility
	Body           string
	TriggerID      string
	CreatedAt      time.Time
}

// IsPublicReply reports whether the message is a visitor-visible agent reply.
func (m Message) IsPublicReply() bool {
	return m.Role == RoleAssistant && m.Visibility == trigger.VisibilityPublic
}
