// Package triggerqueue is the PostgreSQL trigger queue and cursor store.
package triggerqueue

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/infrastructure/database/entities"
	"github.com/supportdeck/agent-server/internal/utils/apperrors"
)

// Repository implements trigger.Repository on PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a trigger queue repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a pending trigger. Replayed ids conflict on the primary key
// and are ignored, which makes enqueue safe to retry.
func (r *Repository) Insert(ctx context.Context, t trigger.Trigger) error {
	entity := entities.NewSchemaPendingTrigger(t)

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity).Error; err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to insert pending trigger", err)
	}
	return nil
}

// Pending returns the conversation's queued triggers in queue order.
func (r *Repository) Pending(ctx context.Context, conversationID string) ([]trigger.Trigger, error) {
	var rows []entities.PendingTrigger
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to list pending triggers", err)
	}

	out := make([]trigger.Trigger, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].EtoD())
	}
	return out, nil
}

// Cursor returns the last processed trigger id, or "" when the conversation
// has never been processed.
func (r *Repository) Cursor(ctx context.Context, conversationID string) (string, error) {
	var cursor entities.ConversationCursor
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to fetch cursor", err)
	}
	return cursor.LastTriggerID, nil
}

// Finalize advances the cursor and deletes the finalized members in one
// transaction. The upsert's conflict guard keeps the cursor monotonic even if
// two workers race past the lease.
func (r *Repository) Finalize(ctx context.Context, conversationID, cursorID string, memberIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cursor := entities.ConversationCursor{
			ConversationID: conversationID,
			LastTriggerID:  cursorID,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.Assignments(map[string]any{"last_trigger_id": cursorID}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "conversation_cursors.last_trigger_id < excluded.last_trigger_id"},
			}},
		}).Create(&cursor).Error; err != nil {
			return err
		}

		if len(memberIDs) == 0 {
			return nil
		}
		return tx.
			Where("conversation_id = ? AND id IN ?", conversationID, memberIDs).
			Delete(&entities.PendingTrigger{}).Error
	})
	if err != nil {
		return apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to finalize triggers", err)
	}
	return nil
}

// StuckConversations returns conversation ids that have had pending triggers
// sitting in the queue since before cutoff. The reconciliation sweep wakes
// them in case their wake signal was lost.
func (r *Repository) StuckConversations(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&entities.PendingTrigger{}).
		Distinct("conversation_id").
		Where("enqueued_at < ?", cutoff).
		Limit(limit).
		Pluck("conversation_id", &ids).Error; err != nil {
		return nil, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to list stuck conversations", err)
	}
	return ids, nil
}

// Depth counts pending triggers across all conversations.
func (r *Repository) Depth(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&entities.PendingTrigger{}).
		Count(&count).Error; err != nil {
		return 0, apperrors.NewError(ctx, apperrors.LayerRepository,
			apperrors.ErrorTypeDatabaseError, "failed to count pending triggers", err)
	}
	return count, nil
}
