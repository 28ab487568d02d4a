// Package conversation is the PostgreSQL conversation and message store.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/infrastructure/database/entities"
	"github.com/supportdeck/agent-server/internal/utils/apperrors"
)

// Repository implements conversation.Repository on PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a conversation repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Ensure creates the conversation row when it does not exist yet.
func (r *Repository) Ensure(ctx context.Context, conversationID string) error {
	entity := entities.Conversation{ID: conversationID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity).Error; err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to ensure conversation", err)
	}
	return nil
}

// FindByID fetches a conversation.
func (r *Repository) FindByID(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var entity entities.Conversation
	if err := r.db.WithContext(ctx).
		Where("id = ?", conversationID).
		First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewError(ctx, apperrors.LayerRepository,
				apperrors.ErrorTypeNotFound,
				fmt.Sprintf("conversation not found: %s", conversationID), nil)
		}
		return nil, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to fetch conversation", err)
	}
	return entity.EtoD(), nil
}

// CreateMessage inserts a message.
func (r *Repository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	entity := entities.NewSchemaMessage(msg)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to create message", err)
	}
	msg.CreatedAt = entity.CreatedAt
	return nil
}

// History returns the most recent messages, oldest first.
func (r *Repository) History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var rows []entities.Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to fetch history", err)
	}

	// Query is newest-first for the limit; callers want chronological order.
	out := make([]domain.Message, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = *rows[i].EtoD()
	}
	return out, nil
}

// Touch bumps the conversation's updated timestamp.
func (r *Repository) Touch(ctx context.Context, conversationID string) error {
	if err := r.db.WithContext(ctx).
		Model(&entities.Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", gorm.Expr("NOW()")).Error; err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to touch conversation", err)
	}
	return nil
}

// HasNewerPublicReply reports whether a public assistant message newer than
// the trigger exists.
func (r *Repository) HasNewerPublicReply(ctx context.Context, conversationID string, after trigger.Trigger) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&entities.Message{}).
		Where("conversation_id = ? AND role = ? AND visibility = ? AND created_at > ?",
			conversationID, string(domain.RoleAssistant), string(trigger.VisibilityPublic), after.CreatedAt).
		Count(&count).Error; err != nil {
		return false, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to check for newer reply", err)
	}
	return count > 0, nil
}
