// Package pipeline is the production five-stage pipeline: load context,
// decide whether to act, draft the reply, apply command side effects, and do
// post-run bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// Generator drafts a reply from the conversation history.
type Generator interface {
	Complete(ctx context.Context, subject string, history []conversation.Message) (string, error)
}

// Config holds pipeline tuning.
type Config struct {
	// HistoryLimit caps how many messages the intake stage loads.
	HistoryLimit int
	// CommandPauseDuration is how long a /pause command pauses the agent.
	CommandPauseDuration time.Duration
}

// Agent implements dispatch.Pipeline.
type Agent struct {
	conversations conversation.Repository
	generator     Generator
	guard         *rogue.Guard
	cfg           Config
	clock         func() time.Time
	log           zerolog.Logger
}

var _ dispatch.Pipeline = (*Agent)(nil)

// NewAgent wires the production pipeline.
func NewAgent(conversations conversation.Repository, generator Generator, guard *rogue.Guard, cfg Config, log zerolog.Logger) *Agent {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.CommandPauseDuration <= 0 {
		cfg.CommandPauseDuration = 30 * time.Minute
	}
	return &Agent{
		conversations: conversations,
		generator:     generator,
		guard:         guard,
		cfg:           cfg,
		clock:         time.Now,
		log:           log.With().Str("component", "pipeline").Logger(),
	}
}

// Intake loads the conversation history for the run.
func (a *Agent) Intake(ctx context.Context, run *dispatch.Run) error {
	history, err := a.conversations.History(ctx, run.ConversationID, a.cfg.HistoryLimit)
	if err != nil {
		return dispatch.Retryable(dispatch.StageIntake, "load history", err)
	}
	run.History = history
	return nil
}

// Decide chooses respond or silent. The agent stands down when a teammate has
// already answered publicly after the triggering messages.
func (a *Agent) Decide(_ context.Context, run *dispatch.Run) (dispatch.Decision, error) {
	if run.Batch.Representative.Kind == trigger.KindHumanCommand {
		return dispatch.DecisionRespond, nil
	}

	if len(run.History) > 0 {
		last := run.History[len(run.History)-1]
		if last.Role == conversation.RoleTeam &&
			last.Visibility == trigger.VisibilityPublic &&
			last.CreatedAt.After(run.Batch.Representative.CreatedAt) {
			a.log.Debug().
				Str("conversation_id", run.ConversationID).
				Msg("team already replied, staying silent")
			return dispatch.DecisionSilent, nil
		}
	}

	return dispatch.DecisionRespond, nil
}

// Generate drafts the reply. Slash commands get a private acknowledgement
// without touching the model; everything else goes through the generator with
// the draft's visibility matching the representative trigger.
func (a *Agent) Generate(ctx context.Context, run *dispatch.Run) ([]dispatch.Draft, error) {
	if cmd, ok := a.command(run); ok {
		return []dispatch.Draft{{Body: cmd.ack(), Public: false}}, nil
	}

	subject := ""
	if conv, err := a.conversations.FindByID(ctx, run.ConversationID); err == nil {
		subject = conv.Subject
	}

	body, err := a.generator.Complete(ctx, subject, run.History)
	if err != nil {
		return nil, dispatch.Retryable(dispatch.StageGeneration, "draft reply", err)
	}
	if body == "" {
		return nil, dispatch.Retryable(dispatch.StageGeneration, "empty completion", nil)
	}

	public := run.Batch.Representative.Visibility == trigger.VisibilityPublic
	return []dispatch.Draft{{Body: body, Public: public}}, nil
}

// Execute applies command side effects. Non-command runs have none.
func (a *Agent) Execute(ctx context.Context, run *dispatch.Run) error {
	cmd, ok := a.command(run)
	if !ok {
		return nil
	}

	switch cmd.name {
	case "pause":
		// "/pause 2h" overrides the default pause duration.
		duration := a.cfg.CommandPauseDuration
		if cmd.arg != "" {
			if parsed, err := time.ParseDuration(cmd.arg); err == nil && parsed > 0 {
				duration = parsed
			}
		}
		until := a.clock().Add(duration)
		if err := a.guard.Pause(ctx, run.ConversationID, until); err != nil {
			return dispatch.Retryable(dispatch.StageExecution, "apply pause command", err)
		}
	case "resume":
		if err := a.guard.Resume(ctx, run.ConversationID); err != nil {
			return dispatch.Retryable(dispatch.StageExecution, "apply resume command", err)
		}
	}
	return nil
}

// Followup bumps the conversation's activity timestamp. Bookkeeping only, so
// a failure here never fails the run.
func (a *Agent) Followup(ctx context.Context, run *dispatch.Run) error {
	if err := a.conversations.Touch(ctx, run.ConversationID); err != nil {
		a.log.Warn().Err(err).
			Str("conversation_id", run.ConversationID).
			Msg("failed to touch conversation")
	}
	return nil
}

type command struct {
	name string
	arg  string
}

func (c command) ack() string {
	switch c.name {
	case "pause":
		return "Agent paused by team command."
	case "resume":
		return "Agent resumed by team command."
	default:
		return fmt.Sprintf("Unknown command %q. Supported: /pause, /resume.", "/"+c.name)
	}
}

// command resolves the representative human command's body from the loaded
// history. Only human command triggers carrying a leading slash qualify.
func (a *Agent) command(run *dispatch.Run) (command, bool) {
	if run.Batch.Representative.Kind != trigger.KindHumanCommand {
		return command{}, false
	}

	for _, msg := range run.History {
		if msg.TriggerID != run.Batch.Representative.ID {
			continue
		}
		body := strings.TrimSpace(msg.Body)
		if !strings.HasPrefix(body, "/") {
			return command{}, false
		}
		fields := strings.Fields(strings.TrimPrefix(body, "/"))
		if len(fields) == 0 {
			return command{}, false
		}
		cmd := command{name: strings.ToLower(fields[0])}
		if len(fields) > 1 {
			cmd.arg = strings.Join(fields[1:], " ")
		}
		return cmd, true
	}
	return command{}, false
}
