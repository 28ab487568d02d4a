// Package continuation decides whether a trigger that already has a newer
// public agent reply still deserves its own pipeline run.
package continuation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// Decision is the classifier verdict.
type Decision string

const (
	// DecisionSkip means the existing newer reply already addresses the trigger.
	DecisionSkip Decision = "skip"
	// DecisionSupplement means the pipeline should still run and may send an
	// additional reply.
	DecisionSupplement Decision = "supplement"
)

// Classifier is the upstream classification collaborator. It may fail or time
// out; callers must not treat that as fatal.
type Classifier interface {
	Classify(ctx context.Context, conversationID string, batch trigger.Batch) (Decision, float64, error)
}

// Service wraps a Classifier with the failure policy: any timeout, error, or
// low-confidence verdict degrades to supplement. A missed reply is worse than
// a redundant one.
type Service struct {
	classifier    Classifier
	timeout       time.Duration
	minConfidence float64
	log           zerolog.Logger
}

// NewService builds the continuation service.
func NewService(classifier Classifier, timeout time.Duration, minConfidence float64, log zerolog.Logger) *Service {
	return &Service{
		classifier:    classifier,
		timeout:       timeout,
		minConfidence: minConfidence,
		log:           log.With().Str("component", "continuation").Logger(),
	}
}

// Decide returns the verdict for a batch whose representative is behind a
// newer public reply. Never returns an error.
func (s *Service) Decide(ctx context.Context, conversationID string, batch trigger.Batch) Decision {
	if s.classifier == nil {
		return DecisionSupplement
	}

	classifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	decision, confidence, err := s.classifier.Classify(classifyCtx, conversationID, batch)
	if err != nil {
		s.log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("trigger_id", batch.Representative.ID).
			Msg("continuation classification failed, defaulting to supplement")
		return DecisionSupplement
	}

	if decision == DecisionSkip && confidence < s.minConfidence {
		s.log.Debug().
			Str("conversation_id", conversationID).
			Float64("confidence", confidence).
			Msg("skip verdict below confidence floor, supplementing")
		return DecisionSupplement
	}

	if decision != DecisionSkip {
		return DecisionSupplement
	}
	return DecisionSkip
}
