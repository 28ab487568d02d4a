package entities

import "time"

// RetryRecord represents the durable retry state of an in-flight trigger.
// Rows are cleared when the trigger is finalized.
type RetryRecord struct {
	ConversationID string `gorm:"type:varchar(40);primaryKey"`
	TriggerID      string `gorm:"type:varchar(40);primaryKey"`

	Attempts  int       `gorm:"not null;default:0"`
	Retryable bool      `gorm:"not null;default:true"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for RetryRecord.
func (RetryRecord) TableName() string {
	return "retry_records"
}
