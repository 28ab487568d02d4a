// Package sendlog posts agent messages together with their send receipts.
package sendlog

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/infrastructure/database/entities"
	"github.com/supportdeck/agent-server/internal/utils/apperrors"
	"github.com/supportdeck/agent-server/internal/utils/triggerid"
)

// Repository implements send.Poster on PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a send log repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// PostReply writes the receipt and the message in one transaction. When the
// receipt already exists the insert conflicts, no message is written, and the
// call reports false. This is the send-key idempotency barrier: the message
// can only ever accompany the first receipt for its key.
func (r *Repository) PostReply(ctx context.Context, conversationID, triggerID, contentHash, body string, public bool) (bool, error) {
	posted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageID := triggerid.NewMessage()

		receipt := entities.SendReceipt{
			TriggerID:      triggerID,
			ContentHash:    contentHash,
			ConversationID: conversationID,
			MessageID:      messageID,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		visibility := trigger.VisibilityPrivate
		if public {
			visibility = trigger.VisibilityPublic
		}
		message := entities.Message{
			ID:             messageID,
			ConversationID: conversationID,
			Role:           string(conversation.RoleAssistant),
			Visibility:     string(visibility),
			Body:           body,
			TriggerID:      triggerID,
		}
		if err := tx.Create(&message).Error; err != nil {
			return err
		}

		posted = true
		return nil
	})
	if err != nil {
		return false, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to post reply", err)
	}
	return posted, nil
}
