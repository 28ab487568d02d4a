// Package rogue caps how many public agent messages a conversation may emit
// inside a time window and auto-pauses the agent when the cap is exceeded.
package rogue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Store persists the per-conversation window counter and pause marker. The
// window increment must be atomic (reset + increment as one operation).
type Store interface {
	// IncrWindow increments the public send counter for the window containing
	// now, resetting the window first when now falls outside it, and returns
	// the new count.
	IncrWindow(ctx context.Context, conversationID string, now time.Time) (int64, error)

	// SetPause records pausedUntil for the conversation.
	SetPause(ctx context.Context, conversationID string, until time.Time) error

	// PausedUntil returns the pause marker when one is set.
	PausedUntil(ctx context.Context, conversationID string) (time.Time, bool, error)

	// ClearPause removes the pause marker.
	ClearPause(ctx context.Context, conversationID string) error
}

// Config holds guard thresholds.
type Config struct {
	MaxPublicSends int
	Window         time.Duration
	PauseDuration  time.Duration
}

// Guard is a fixed-window limiter over public agent sends. It only needs to
// catch sustained runaway loops, not micro-burst precision.
type Guard struct {
	store Store
	cfg   Config
	log   zerolog.Logger
}

// NewGuard builds a guard over the given store.
func NewGuard(store Store, cfg Config, log zerolog.Logger) *Guard {
	return &Guard{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "rogue-guard").Logger(),
	}
}

// RecordPublicSend counts one public send and trips the pause when the window
// cap is exceeded. Returns whether this send tripped the guard.
func (g *Guard) RecordPublicSend(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	count, err := g.store.IncrWindow(ctx, conversationID, now)
	if err != nil {
		return false, err
	}

	if count <= int64(g.cfg.MaxPublicSends) {
		return false, nil
	}

	until := now.Add(g.cfg.PauseDuration)
	if err := g.store.SetPause(ctx, conversationID, until); err != nil {
		return false, err
	}

	g.log.Warn().
		Str("conversation_id", conversationID).
		Int64("public_sends", count).
		Int("max_public_sends", g.cfg.MaxPublicSends).
		Time("paused_until", until).
		Msg("rogue guard tripped, agent paused")
	return true, nil
}

// IsPaused reports whether the conversation is currently auto-paused.
func (g *Guard) IsPaused(ctx context.Context, conversationID string, now time.Time) (bool, error) {
	until, ok, err := g.store.PausedUntil(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return ok && now.Before(until), nil
}

// PausedUntil exposes the pause marker for the ops surface.
func (g *Guard) PausedUntil(ctx context.Context, conversationID string) (time.Time, bool, error) {
	return g.store.PausedUntil(ctx, conversationID)
}

// Pause sets the pause marker manually, outside the window accounting. Used
// by team commands and the ops surface.
func (g *Guard) Pause(ctx context.Context, conversationID string, until time.Time) error {
	g.log.Info().
		Str("conversation_id", conversationID).
		Time("paused_until", until).
		Msg("agent paused")
	return g.store.SetPause(ctx, conversationID, until)
}

// Resume clears the pause marker. Team action after investigating a trip.
func (g *Guard) Resume(ctx context.Context, conversationID string) error {
	g.log.Info().Str("conversation_id", conversationID).Msg("agent pause cleared")
	return g.store.ClearPause(ctx, conversationID)
}
