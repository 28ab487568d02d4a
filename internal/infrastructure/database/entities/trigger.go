package entities

import (
	"time"

	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// PendingTrigger represents the database schema for queued triggers. Rows are
// deleted when the trigger is finalized; the table only ever holds the
// not-yet-processed tail of each conversation.
type PendingTrigger struct {
	ID        string    `gorm:"type:varchar(40);primaryKey"`
	CreatedAt time.Time `gorm:"index:idx_pending_trigger_order,priority:2;not null"`

	ConversationID string `gorm:"type:varchar(40);index:idx_pending_trigger_order,priority:1;not null"`
	Kind           string `gorm:"type:varchar(20);not null"`
	Visibility     string `gorm:"type:varchar(10);not null"`

	// EnqueuedAt is when the row was inserted, as opposed to CreatedAt which
	// is the trigger's own timestamp. The reconciliation sweep uses it to spot
	// stuck conversations.
	EnqueuedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for PendingTrigger.
func (PendingTrigger) TableName() string {
	return "pending_triggers"
}

// EtoD converts database entity to domain model.
func (p *PendingTrigger) EtoD() trigger.Trigger {
	return trigger.Trigger{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		Kind:           trigger.Kind(p.Kind),
		Visibility:     triggerVisibility(p.Visibility),
		CreatedAt:      p.CreatedAt,
	}
}

// NewSchemaPendingTrigger creates a database entity from domain model.
func NewSchemaPendingTrigger(t trigger.Trigger) *PendingTrigger {
	return &PendingTrigger{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Kind:           string(t.Kind),
		Visibility:     string(t.Visibility),
		CreatedAt:      t.CreatedAt,
	}
}

// ConversationCursor represents the durable processing cursor. One row per
// conversation; LastTriggerID only ever moves forward.
type ConversationCursor struct {
	ConversationID string    `gorm:"type:varchar(40);primaryKey"`
	LastTriggerID  string    `gorm:"type:varchar(40);not null"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ConversationCursor.
func (ConversationCursor) TableName() string {
	return "conversation_cursors"
}

func triggerVisibility(v string) trigger.Visibility {
	if v == string(trigger.VisibilityPrivate) {
		return trigger.VisibilityPrivate
	}
	return trigger.VisibilityPublic
}
