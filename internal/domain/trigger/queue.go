package trigger

import (
	"context"

	"github.com/rs/zerolog"
)

// Repository is the durable storage for pending triggers and the processing
// cursor. The cursor advance and pending removal in Finalize must be applied
// as one transaction.
type Repository interface {
	// Insert stores a pending trigger. Inserting an id already present is a
	// no-op (safe to retry).
	Insert(ctx context.Context, t Trigger) error

	// Pending returns all pending triggers for the conversation in
	// (created_at, id) ascending order.
	Pending(ctx context.Context, conversationID string) ([]Trigger, error)

	// Cursor returns the last fully processed trigger id, or "" when the
	// conversation has never been processed.
	Cursor(ctx context.Context, conversationID string) (string, error)

	// Finalize advances the cursor to cursorID and deletes the given pending
	// triggers in one transaction. The cursor never moves backward; a
	// cursorID at or behind the current cursor leaves it untouched.
	Finalize(ctx context.Context, conversationID, cursorID string, memberIDs []string) error
}

// Queue exposes the per-conversation ordered trigger set. The queue plus the
// cursor are authoritative; wake signals merely prompt re-deriving work from
// this state.
type Queue struct {
	repo Repository
	log  zerolog.Logger
}

// NewQueue builds a trigger queue over the given repository.
func NewQueue(repo Repository, log zerolog.Logger) *Queue {
	return &Queue{
		repo: repo,
		log:  log.With().Str("component", "trigger-queue").Logger(),
	}
}

// Enqueue inserts the trigger preserving queue order. Triggers at or behind
// the cursor were already finalized and are dropped silently, which makes
// replayed or late enqueues no-ops.
func (q *Queue) Enqueue(ctx context.Context, t Trigger) error {
	cursor, err := q.repo.Cursor(ctx, t.ConversationID)
	if err != nil {
		return err
	}

	// Ids are ULIDs, so lexicographic comparison matches creation order.
	if cursor != "" && t.ID <= cursor {
		q.log.Debug().
			Str("conversation_id", t.ConversationID).
			Str("trigger_id", t.ID).
			Str("cursor", cursor).
			Msg("trigger behind cursor, skipping enqueue")
		return nil
	}

	return q.repo.Insert(ctx, t)
}

// PeekHead returns the earliest pending trigger, if any.
func (q *Queue) PeekHead(ctx context.Context, conversationID string) (Trigger, bool, error) {
	pending, err := q.repo.Pending(ctx, conversationID)
	if err != nil {
		return Trigger{}, false, err
	}
	if len(pending) == 0 {
		return Trigger{}, false, nil
	}
	return pending[0], true, nil
}

// CoalesceFromHead returns the effective batch at the head of the queue.
func (q *Queue) CoalesceFromHead(ctx context.Context, conversationID string) (Batch, bool, error) {
	pending, err := q.repo.Pending(ctx, conversationID)
	if err != nil {
		return Batch{}, false, err
	}
	batch, ok := Coalesce(pending)
	return batch, ok, nil
}

// Finalize advances the cursor past the batch and removes its members.
func (q *Queue) Finalize(ctx context.Context, conversationID string, batch Batch) error {
	return q.repo.Finalize(ctx, conversationID, batch.Representative.ID, batch.MemberIDs())
}

// DropAll finalizes every pending trigger without processing it, advancing the
// cursor to the queue tail. Used while the conversation is paused.
func (q *Queue) DropAll(ctx context.Context, conversationID string) (int, error) {
	pending, err := q.repo.Pending(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tail := pending[len(pending)-1]
	ids := make([]string, 0, len(pending))
	for _, t := range pending {
		ids = append(ids, t.ID)
	}

	if err := q.repo.Finalize(ctx, conversationID, tail.ID, ids); err != nil {
		return 0, err
	}
	return len(pending), nil
}
