package entities

import "time"

// SendReceipt marks one (trigger, content) pair as sent. The composite primary
// key is the idempotency guarantee: a second insert for the same pair conflicts
// and the message it would accompany is never written.
type SendReceipt struct {
	TriggerID   string `gorm:"type:varchar(40);primaryKey"`
	ContentHash string `gorm:"type:varchar(64);primaryKey"`

	ConversationID string    `gorm:"type:varchar(40);index;not null"`
	MessageID      string    `gorm:"type:varchar(40);not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for SendReceipt.
func (SendReceipt) TableName() string {
	return "send_receipts"
}
