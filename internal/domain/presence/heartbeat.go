// Package presence drives the typing indicator shown to the visitor while the
// agent is generating.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the realtime delivery collaborator for presence state.
type Notifier interface {
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
}

// Heartbeat keeps the typing indicator alive with periodic refreshes. Its
// lifetime is independent of the generation call; the returned stop function
// cancels it deterministically and is safe to call more than once.
type Heartbeat struct {
	notifier Notifier
	interval time.Duration
	log      zerolog.Logger
}

// NewHeartbeat builds a heartbeat.
func NewHeartbeat(notifier Notifier, interval time.Duration, log zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		notifier: notifier,
		interval: interval,
		log:      log.With().Str("component", "presence").Logger(),
	}
}

// Begin starts the indicator and returns its stop function.
func (h *Heartbeat) Begin(ctx context.Context, conversationID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		if err := h.notifier.StartTyping(hbCtx, conversationID); err != nil {
			h.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing start failed")
		}

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := h.notifier.StartTyping(hbCtx, conversationID); err != nil {
					h.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing refresh failed")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			h.ForceStop(context.WithoutCancel(ctx), conversationID)
		})
	}
}

// ForceStop clears the indicator unconditionally. Used as the safety net on
// every dispatcher exit path.
func (h *Heartbeat) ForceStop(ctx context.Context, conversationID string) {
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.notifier.StopTyping(stopCtx, conversationID); err != nil {
		h.log.Debug().Err(err).Str("conversation_id", conversationID).Msg("typing stop failed")
	}
}
