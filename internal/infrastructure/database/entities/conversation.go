package entities

import (
	"time"

	"gorm.io/datatypes"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
)

// Conversation represents the database schema for support conversations.
type Conversation struct {
	ID        string    `gorm:"type:varchar(40);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	Subject  string         `gorm:"type:varchar(256)"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`
}

// TableName specifies the table name for Conversation.
func (Conversation) TableName() string {
	return "conversations"
}

// EtoD converts database entity to domain model.
func (c *Conversation) EtoD() *conversation.Conversation {
	return &conversation.Conversation{
		ID:        c.ID,
		Subject:   c.Subject,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// Message represents the database schema for conversation messages.
type Message struct {
	ID        string    `gorm:"type:varchar(40);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_message_conversation_created,priority:2"`

	ConversationID string `gorm:"type:varchar(40);index:idx_message_conversation_created,priority:1;not null"`
	Role           string `gorm:"type:varchar(20);not null"`
	Visibility     string `gorm:"type:varchar(10);not null"`
	Body           string `gorm:"type:text;not null"`

	// TriggerID links inbound messages to the trigger they spawned and
	// assistant messages to the trigger that produced them.
	TriggerID string `gorm:"type:varchar(40);index"`
}

// TableName specifies the table name for Message.
func (Message) TableName() string {
	return "messages"
}

// EtoD converts database entity to domain model.
func (m *Message) EtoD() *conversation.Message {
	return &conversation.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           conversation.Role(m.Role),
		Visibility:     triggerVisibility(m.Visibility),
		Body:           m.Body,
		TriggerID:      m.TriggerID,
		CreatedAt:      m.CreatedAt,
	}
}

// NewSchemaMessage creates a database entity from domain model.
func NewSchemaMessage(msg *conversation.Message) *Message {
	return &Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Visibility:     string(msg.Visibility),
		Body:           msg.Body,
		TriggerID:      msg.TriggerID,
		CreatedAt:      msg.CreatedAt,
	}
}
