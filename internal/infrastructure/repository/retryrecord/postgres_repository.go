// Package retryrecord is the PostgreSQL store for per-trigger retry state.
package retryrecord

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/infrastructure/database/entities"
	"github.com/supportdeck/agent-server/internal/utils/apperrors"
)

// Repository implements dispatch.RetryStore and send.RetryMarker.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a retry record repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the record, defaulting to zero attempts and retryable when no
// row exists yet.
func (r *Repository) Get(ctx context.Context, conversationID, triggerID string) (dispatch.RetryRecord, error) {
	var entity entities.RetryRecord
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND trigger_id = ?", conversationID, triggerID).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dispatch.RetryRecord{Attempts: 0, Retryable: true}, nil
	}
	if err != nil {
		return dispatch.RetryRecord{}, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to fetch retry record", err)
	}
	return dispatch.RetryRecord{Attempts: entity.Attempts, Retryable: entity.Retryable}, nil
}

// IncrementAttempts bumps the attempt counter, creating the row on first use,
// and returns the new value. The increment happens in the database so
// concurrent bumps cannot lose updates.
func (r *Repository) IncrementAttempts(ctx context.Context, conversationID, triggerID string) (int, error) {
	entity := entities.RetryRecord{
		ConversationID: conversationID,
		TriggerID:      triggerID,
		Attempts:       1,
		Retryable:      true,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "trigger_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempts":   gorm.Expr("retry_records.attempts + 1"),
				"updated_at": time.Now(),
			}),
		}, clause.Returning{}).
		Create(&entity).Error
	if err != nil {
		return 0, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to increment attempts", err)
	}
	return entity.Attempts, nil
}

// MarkUnretryable durably flips the retryable flag off. Must land before the
// dispatcher inspects the record after a failed run, so it is a plain upsert
// rather than a read-modify-write.
func (r *Repository) MarkUnretryable(ctx context.Context, conversationID, triggerID string) error {
	entity := entities.RetryRecord{
		ConversationID: conversationID,
		TriggerID:      triggerID,
		Attempts:       0,
		Retryable:      false,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}, {Name: "trigger_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"retryable":  false,
				"updated_at": time.Now(),
			}),
		}).
		Create(&entity).Error
	if err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to mark trigger unretryable", err)
	}
	return nil
}

// Clear removes the record once the trigger is finalized.
func (r *Repository) Clear(ctx context.Context, conversationID, triggerID string) error {
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND trigger_id = ?", conversationID, triggerID).
		Delete(&entities.RetryRecord{}).Error
	if err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to clear retry record", err)
	}
	return nil
}
