package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/infrastructure/lease"
	"github.com/supportdeck/agent-server/internal/infrastructure/metrics"
	"github.com/supportdeck/agent-server/internal/infrastructure/observability"
)

// WakeSource hands out due wake signals and takes back the ones a worker
// could not act on.
type WakeSource interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	ScheduleWake(ctx context.Context, conversationID string, delay time.Duration) error
}

// LeaseManager hands out per-conversation drain leases.
type LeaseManager interface {
	Acquire(ctx context.Context, conversationID string) (*lease.Lease, error)
}

// Worker polls the wake schedule and drains woken conversations.
type Worker struct {
	id           int
	wakes        WakeSource
	leases       LeaseManager
	dispatcher   *dispatch.Dispatcher
	pollInterval time.Duration
	drainTimeout time.Duration
	log          zerolog.Logger
	stopChan     chan struct{}
}

// NewWorker creates a wake-polling worker.
func NewWorker(
	id int,
	wakes WakeSource,
	leases LeaseManager,
	dispatcher *dispatch.Dispatcher,
	pollInterval, drainTimeout time.Duration,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		id:           id,
		wakes:        wakes,
		leases:       leases,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		drainTimeout: drainTimeout,
		log:          log.With().Int("worker_id", id).Str("component", "worker").Logger(),
		stopChan:     make(chan struct{}),
	}
}

// Start begins polling. Blocks until the context is cancelled or Stop is
// called.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Msg("worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped by context")
			return
		case <-w.stopChan:
			w.log.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			w.processWakes(ctx)
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.stopChan)
}

func (w *Worker) processWakes(ctx context.Context) {
	conversations, err := w.wakes.ClaimDue(ctx, time.Now(), 1)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to claim due wakes")
		return
	}

	for _, conversationID := range conversations {
		w.drain(ctx, conversationID)
	}
}

// drain takes the conversation lease and runs the dispatcher under the drain
// timeout. A held lease means another worker is already on it, but the holder
// may have finished its final queue scan before the trigger behind this wake
// landed, so the wake is handed back instead of dropped.
func (w *Worker) drain(ctx context.Context, conversationID string) {
	held, err := w.leases.Acquire(ctx, conversationID)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			metrics.WakesTotal.WithLabelValues("lease_held").Inc()
			if err := w.wakes.ScheduleWake(ctx, conversationID, w.pollInterval); err != nil {
				// A lost wake here is recovered by the reconciliation sweep.
				w.log.Error().Err(err).
					Str("conversation_id", conversationID).
					Msg("failed to return wake for held conversation")
			}
			w.log.Debug().
				Str("conversation_id", conversationID).
				Msg("conversation lease held, wake re-queued")
			return
		}
		metrics.WakesTotal.WithLabelValues("error").Inc()
		w.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Msg("failed to acquire conversation lease")
		return
	}
	defer held.Release(ctx)

	drainCtx, cancel := context.WithTimeout(ctx, w.drainTimeout)
	defer cancel()

	drainCtx, span := observability.StartDrainSpan(drainCtx, conversationID)
	defer span.End()

	if err := w.dispatcher.Drain(drainCtx, conversationID); err != nil {
		metrics.WakesTotal.WithLabelValues("error").Inc()
		observability.RecordError(span, err, "retryable")
		w.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Msg("drain failed")
		return
	}

	metrics.WakesTotal.WithLabelValues("drained").Inc()
}
