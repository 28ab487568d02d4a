// Package ingest accepts inbound conversation messages, persists them, and
// enqueues the triggers that should wake the agent.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/utils/apperrors"
	"github.com/supportdeck/agent-server/internal/utils/triggerid"
)

// Result reports what an ingest produced.
type Result struct {
	MessageID string
	TriggerID string
	Enqueued  bool
}

// Service wires message persistence to the trigger queue.
type Service struct {
	conversations conversation.Repository
	queue         *trigger.Queue
	scheduler     dispatch.WakeScheduler
	clock         func() time.Time
	log           zerolog.Logger
}

// NewService builds the ingest service.
func NewService(conversations conversation.Repository, queue *trigger.Queue, scheduler dispatch.WakeScheduler, log zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		queue:         queue,
		scheduler:     scheduler,
		clock:         time.Now,
		log:           log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest stores the message and enqueues a trigger when the message should
// wake the agent. Visitor messages always do; team messages only when they are
// slash commands, since an ordinary team reply is an answer, not a prompt.
func (s *Service) Ingest(ctx context.Context, conversationID string, role conversation.Role, visibility trigger.Visibility, body string) (*Result, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewError(ctx, apperrors.LayerDomain,
			apperrors.ErrorTypeValidation, "message body is empty", nil)
	}
	if role == conversation.RoleAssistant {
		return nil, apperrors.NewError(ctx, apperrors.LayerDomain,
			apperrors.ErrorTypeValidation, "assistant messages cannot be ingested", nil)
	}

	if err := s.conversations.Ensure(ctx, conversationID); err != nil {
		return nil, err
	}

	kind, enqueue := triggerKind(role, body)

	now := s.clock()
	result := &Result{MessageID: triggerid.NewMessage()}
	if enqueue {
		result.TriggerID = triggerid.NewTrigger()
	}

	msg := &conversation.Message{
		ID:             result.MessageID,
		ConversationID: conversationID,
		Role:           role,
		Visibility:     visibility,
		Body:           body,
		TriggerID:      result.TriggerID,
		CreatedAt:      now,
	}
	if err := s.conversations.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if !enqueue {
		return result, nil
	}

	t := trigger.Trigger{
		ID:             result.TriggerID,
		ConversationID: conversationID,
		Kind:           kind,
		Visibility:     visibility,
		CreatedAt:      now,
	}
	if err := s.queue.Enqueue(ctx, t); err != nil {
		return nil, err
	}

	if err := s.scheduler.ScheduleWake(ctx, conversationID, 0); err != nil {
		// The trigger is durable; a lost wake is recovered by the sweep.
		s.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("trigger_id", t.ID).
			Msg("failed to schedule wake")
	}

	result.Enqueued = true
	return result, nil
}

// triggerKind classifies the inbound message.
func triggerKind(role conversation.Role, body string) (trigger.Kind, bool) {
	if role == conversation.RoleVisitor {
		return trigger.KindVisitorMessage, true
	}
	if strings.HasPrefix(body, "/") {
		return trigger.KindHumanCommand, true
	}
	return "", false
}
