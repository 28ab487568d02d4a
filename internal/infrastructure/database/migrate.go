package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/supportdeck/agent-server/internal/infrastructure/database/entities"
)

// AutoMigrate applies database schema changes for the agent domain.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&entities.Conversation{},
		&entities.Message{},
		&entities.PendingTrigger{},
		&entities.ConversationCursor{},
		&entities.RetryRecord{},
		&entities.SendReceipt{},
	); err != nil {
		return err
	}

	log.Info().Msg("database schema up to date")
	return nil
}
