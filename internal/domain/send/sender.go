// Package send posts agent messages with exactly-once-effective semantics.
// Every send is keyed by (representative trigger id, normalized content hash);
// a key seen before, in this run or a prior retry, suppresses the send.
package send

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/infrastructure/metrics"
)

// Poster persists the message together with its send receipt in one
// transaction. Returns false without posting when the receipt already exists.
type Poster interface {
	PostReply(ctx context.Context, conversationID, triggerID, contentHash, body string, public bool) (bool, error)
}

// RetryMarker durably disables full retries for a trigger. Called the moment
// the first public send for that trigger succeeds.
type RetryMarker interface {
	MarkUnretryable(ctx context.Context, conversationID, triggerID string) error
}

// Sender posts drafts produced by the generation stage.
type Sender struct {
	poster  Poster
	guard   *rogue.Guard
	retries RetryMarker
	log     zerolog.Logger
}

// NewSender builds a sender.
func NewSender(poster Poster, guard *rogue.Guard, retries RetryMarker, log zerolog.Logger) *Sender {
	return &Sender{
		poster:  poster,
		guard:   guard,
		retries: retries,
		log:     log.With().Str("component", "sender").Logger(),
	}
}

// NormalizeContent collapses whitespace so trivially reformatted regenerations
// hash to the same key.
func NormalizeContent(body string) string {
	return strings.Join(strings.Fields(body), " ")
}

// ContentKey returns the idempotency hash for a message body.
func ContentKey(body string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(body)))
	return hex.EncodeToString(sum[:])
}

// Send posts one draft. Public sends are rejected while the conversation is
// paused, deduplicated by content key, counted by the rogue guard, and flip
// the trigger's retry record to unretryable. Returns whether a message was
// actually posted.
func (s *Sender) Send(ctx context.Context, conversationID, triggerID, body string, public bool, now time.Time) (bool, error) {
	if public {
		paused, err := s.guard.IsPaused(ctx, conversationID, now)
		if err != nil {
			return false, err
		}
		if paused {
			s.log.Warn().
				Str("conversation_id", conversationID).
				Str("trigger_id", triggerID).
				Msg("public send rejected, conversation paused")
			return false, nil
		}
	}

	hash := ContentKey(body)
	posted, err := s.poster.PostReply(ctx, conversationID, triggerID, hash, body, public)
	if err != nil {
		return false, err
	}
	if !posted {
		s.log.Info().
			Str("conversation_id", conversationID).
			Str("trigger_id", triggerID).
			Str("content_hash", hash).
			Msg("duplicate send suppressed")
		return false, nil
	}

	if !public {
		return true, nil
	}

	if err := s.retries.MarkUnretryable(ctx, conversationID, triggerID); err != nil {
		// The message is out; surface the error so the dispatcher treats the
		// run as failed rather than pretending the flag is durable.
		return true, err
	}

	tripped, err := s.guard.RecordPublicSend(ctx, conversationID, now)
	if err != nil {
		return true, err
	}
	if tripped {
		metrics.RogueTripsTotal.Inc()
	}

	return true, nil
}
