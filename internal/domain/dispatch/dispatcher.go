// Package dispatch runs the per-conversation pipeline: it pulls the effective
// trigger from the queue, executes the five stages, and applies the
// retry/drop policy. The queue plus cursor are the source of truth; wake
// signals are only prompts to re-derive work from that state.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/continuation"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/infrastructure/metrics"
	"github.com/supportdeck/agent-server/internal/infrastructure/observability"
)

// RetryRecord is the ephemeral retry state attached to an in-flight trigger.
type RetryRecord struct {
	Attempts  int
	Retryable bool
}

// RetryStore durably tracks attempts and the retryable flag per trigger.
type RetryStore interface {
	// Get returns the record, or {Attempts: 0, Retryable: true} when absent.
	Get(ctx context.Context, conversationID, triggerID string) (RetryRecord, error)

	// IncrementAttempts bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, conversationID, triggerID string) (int, error)

	// Clear removes the record once the trigger is finalized.
	Clear(ctx context.Context, conversationID, triggerID string) error
}

// WakeScheduler delivers delayed wake signals. At-least-once is fine; the
// dispatcher treats stale wakes as no-ops.
type WakeScheduler interface {
	ScheduleWake(ctx context.Context, conversationID string, delay time.Duration) error
}

// ContinuationDecider resolves skip-vs-supplement for triggers behind a newer
// public reply. Must never fail; classification trouble means supplement.
type ContinuationDecider interface {
	Decide(ctx context.Context, conversationID string, batch trigger.Batch) continuation.Decision
}

// HistoryReader is the slice of conversation persistence the dispatcher needs.
type HistoryReader interface {
	HasNewerPublicReply(ctx context.Context, conversationID string, after trigger.Trigger) (bool, error)
}

// DraftSender posts generated drafts with send-key deduplication.
type DraftSender interface {
	Send(ctx context.Context, conversationID, triggerID, body string, public bool, now time.Time) (bool, error)
}

// Presence controls the typing indicator.
type Presence interface {
	Begin(ctx context.Context, conversationID string) (stop func())
	ForceStop(ctx context.Context, conversationID string)
}

// Config holds dispatcher tuning.
type Config struct {
	// MaxAttempts is the pipeline run ceiling per effective trigger.
	MaxAttempts int
	// RetryWakeDelay spaces out the continuation wake after a transient failure.
	RetryWakeDelay time.Duration
	// GenerationTimeout bounds the generation stage.
	GenerationTimeout time.Duration
	// Clock is swappable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Dispatcher drains one conversation's trigger queue per wake invocation.
// Callers must hold the conversation lease for the whole drain.
type Dispatcher struct {
	queue        *trigger.Queue
	history      HistoryReader
	continuation ContinuationDecider
	pipeline     Pipeline
	sender       DraftSender
	guard        *rogue.Guard
	retries      RetryStore
	scheduler    WakeScheduler
	presence     Presence
	cfg          Config
	log          zerolog.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(
	queue *trigger.Queue,
	history HistoryReader,
	decider ContinuationDecider,
	pipeline Pipeline,
	sender DraftSender,
	guard *rogue.Guard,
	retries RetryStore,
	scheduler WakeScheduler,
	presence Presence,
	cfg Config,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Dispatcher{
		queue:        queue,
		history:      history,
		continuation: decider,
		pipeline:     pipeline,
		sender:       sender,
		guard:        guard,
		retries:      retries,
		scheduler:    scheduler,
		presence:     presence,
		cfg:          cfg,
		log:          log.With().Str("component", "dispatcher").Logger(),
	}
}

// Drain processes the conversation's queue until it is empty, a retry is
// scheduled, or an unrecoverable persistence error occurs. A persistence
// error aborts the run without advancing state; the reconciliation sweep
// picks the conversation up again later.
func (d *Dispatcher) Drain(ctx context.Context, conversationID string) error {
	log := d.log.With().Str("conversation_id", conversationID).Logger()
	started := d.cfg.Clock()
	defer func() {
		metrics.DrainDuration.Observe(d.cfg.Clock().Sub(started).Seconds())
		// Safety net: the indicator must be off on every exit path.
		d.presence.ForceStop(ctx, conversationID)
	}()

	state := StateIdle
	state = d.transition(log, state, StateDraining)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := d.cfg.Clock()

		paused, err := d.guard.IsPaused(ctx, conversationID, now)
		if err != nil {
			return err
		}
		if paused {
			dropped, err := d.queue.DropAll(ctx, conversationID)
			if err != nil {
				return err
			}
			if dropped > 0 {
				metrics.TriggersDroppedTotal.WithLabelValues("paused").Add(float64(dropped))
				log.Warn().Int("dropped", dropped).Msg("conversation paused, queued triggers dropped")
				state = d.transition(log, state, StateDropped)
			}
			d.transition(log, state, StateIdle)
			return nil
		}

		batch, ok, err := d.queue.CoalesceFromHead(ctx, conversationID)
		if err != nil {
			return err
		}
		if !ok {
			d.transition(log, state, StateIdle)
			return nil
		}

		newerReply, err := d.history.HasNewerPublicReply(ctx, conversationID, batch.Representative)
		if err != nil {
			return err
		}
		if newerReply && d.continuation.Decide(ctx, conversationID, batch) == continuation.DecisionSkip {
			if err := d.finalize(ctx, conversationID, batch); err != nil {
				return err
			}
			metrics.BatchesTotal.WithLabelValues("skipped").Inc()
			log.Info().
				Str("trigger_id", batch.Representative.ID).
				Msg("trigger already addressed by a newer reply, skipped")
			continue
		}

		attempt, err := d.retries.IncrementAttempts(ctx, conversationID, batch.Representative.ID)
		if err != nil {
			return err
		}

		runErr := d.runPipeline(ctx, conversationID, batch, attempt)
		if runErr == nil {
			if err := d.finalize(ctx, conversationID, batch); err != nil {
				return err
			}
			metrics.BatchesTotal.WithLabelValues("completed").Inc()
			state = d.transition(log, state, StateCompleted)
			state = d.transition(log, state, StateDraining)
			continue
		}

		stageErr := asStageError(StageGeneration, runErr)
		metrics.StageFailuresTotal.WithLabelValues(string(stageErr.Stage), string(stageErr.Severity)).Inc()

		record, err := d.retries.Get(ctx, conversationID, batch.Representative.ID)
		if err != nil {
			return err
		}

		if !record.Retryable || !stageErr.IsRetryable() || record.Attempts >= d.cfg.MaxAttempts {
			reason := "retry_exhausted"
			if !record.Retryable {
				reason = "unretryable"
			}
			if err := d.finalize(ctx, conversationID, batch); err != nil {
				return err
			}
			metrics.BatchesTotal.WithLabelValues("dropped").Inc()
			metrics.TriggersDroppedTotal.WithLabelValues(reason).Add(float64(len(batch.Members)))
			log.Error().Err(stageErr).
				Str("trigger_id", batch.Representative.ID).
				Int("attempts", record.Attempts).
				Str("reason", reason).
				Msg("trigger dropped after pipeline failure")
			state = d.transition(log, state, StateDropped)
			state = d.transition(log, state, StateDraining)
			continue
		}

		// Transient failure with retries left: leave the members queued, wake
		// again later, and stop draining to avoid a tight retry spin.
		if err := d.scheduler.ScheduleWake(ctx, conversationID, d.cfg.RetryWakeDelay); err != nil {
			// Wake lost; the reconciliation sweep recovers the conversation.
			log.Error().Err(err).Msg("failed to schedule retry wake")
		}
		metrics.BatchesTotal.WithLabelValues("retrying").Inc()
		log.Warn().Err(stageErr).
			Str("trigger_id", batch.Representative.ID).
			Int("attempt", record.Attempts).
			Msg("pipeline failed, retry scheduled")
		state = d.transition(log, state, StateRetrying)
		d.transition(log, state, StateIdle)
		return nil
	}
}

// transition moves the drain state machine, logging the change. An invalid
// transition indicates a dispatcher bug and is logged loudly but not fatal.
func (d *Dispatcher) transition(log zerolog.Logger, from, to State) State {
	if !from.CanTransitionTo(to) {
		log.Error().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("invalid dispatcher state transition")
		return to
	}
	log.Trace().Str("from", from.String()).Str("to", to.String()).Msg("dispatcher state")
	return to
}

func (d *Dispatcher) finalize(ctx context.Context, conversationID string, batch trigger.Batch) error {
	if err := d.queue.Finalize(ctx, conversationID, batch); err != nil {
		return err
	}
	if err := d.retries.Clear(ctx, conversationID, batch.Representative.ID); err != nil {
		// Stale records are harmless: the cursor already passed this trigger.
		d.log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("trigger_id", batch.Representative.ID).
			Msg("failed to clear retry record")
	}
	return nil
}

func (d *Dispatcher) runPipeline(ctx context.Context, conversationID string, batch trigger.Batch, attempt int) (err error) {
	ctx, span := observability.StartBatchSpan(ctx, conversationID, batch.Representative.ID, len(batch.Members), attempt)
	defer func() {
		if err != nil {
			observability.RecordError(span, err, string(asStageError(StageGeneration, err).Severity))
		}
		span.End()
	}()

	run := &Run{
		ConversationID: conversationID,
		Batch:          batch,
		Attempt:        attempt,
	}

	if err := d.pipeline.Intake(ctx, run); err != nil {
		return asStageError(StageIntake, err)
	}

	decision, err := d.pipeline.Decide(ctx, run)
	if err != nil {
		return asStageError(StageDecision, err)
	}

	if decision == DecisionRespond {
		drafts, err := d.generate(ctx, run)
		if err != nil {
			return err
		}

		now := d.cfg.Clock()
		for _, draft := range drafts {
			sent, err := d.sender.Send(ctx, conversationID, batch.Representative.ID, draft.Body, draft.Public, now)
			if err != nil {
				return asStageError(StageGeneration, err)
			}
			if draft.Public {
				result := "suppressed"
				if sent {
					result = "sent"
				}
				metrics.PublicSendsTotal.WithLabelValues(result).Inc()
			}
		}

		if err := d.pipeline.Execute(ctx, run); err != nil {
			return asStageError(StageExecution, err)
		}
	}

	if err := d.pipeline.Followup(ctx, run); err != nil {
		return asStageError(StageFollowup, err)
	}

	return nil
}

// generate runs the generation stage under its timeout with the typing
// indicator held for exactly the stage's lifetime.
func (d *Dispatcher) generate(ctx context.Context, run *Run) ([]Draft, error) {
	stop := d.presence.Begin(ctx, run.ConversationID)
	defer stop()

	genCtx := ctx
	if d.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, d.cfg.GenerationTimeout)
		defer cancel()
	}

	drafts, err := d.pipeline.Generate(genCtx, run)
	if err != nil {
		return nil, asStageError(StageGeneration, err)
	}
	return drafts, nil
}
