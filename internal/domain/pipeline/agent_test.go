package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

type stubRepo struct {
	conversation.Repository
	history []conversation.Message
	subject string
	touched int
}

func (s *stubRepo) History(_ context.Context, _ string, _ int) ([]conversation.Message, error) {
	return s.history, nil
}

func (s *stubRepo) FindByID(_ context.Context, conversationID string) (*conversation.Conversation, error) {
	return &conversation.Conversation{ID: conversationID, Subject: s.subject}, nil
}

func (s *stubRepo) Touch(_ context.Context, _ string) error {
	s.touched++
	return nil
}

type stubGenerator struct {
	reply string
	calls int
}

func (g *stubGenerator) Complete(_ context.Context, _ string, _ []conversation.Message) (string, error) {
	g.calls++
	return g.reply, nil
}

func newAgent(repo *stubRepo, gen *stubGenerator, guard *rogue.Guard) *Agent {
	return NewAgent(repo, gen, guard, Config{}, zerolog.Nop())
}

func newGuard() *rogue.Guard {
	cfg := rogue.Config{MaxPublicSends: 8, Window: time.Minute, PauseDuration: 30 * time.Minute}
	return rogue.NewGuard(rogue.NewMemoryStore(cfg.Window), cfg, zerolog.Nop())
}

func visitorRun(history ...conversation.Message) *dispatch.Run {
	tr := trigger.Trigger{
		ID:             "trg_01",
		ConversationID: "conv_a",
		Kind:           trigger.KindVisitorMessage,
		Visibility:     trigger.VisibilityPublic,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	return &dispatch.Run{
		ConversationID: "conv_a",
		Batch:          trigger.Batch{Representative: tr, Members: []trigger.Trigger{tr}},
		History:        history,
	}
}

func commandRun(body string) *dispatch.Run {
	tr := trigger.Trigger{
		ID:             "trg_cmd",
		ConversationID: "conv_a",
		Kind:           trigger.KindHumanCommand,
		Visibility:     trigger.VisibilityPrivate,
		CreatedAt:      time.Now(),
	}
	return &dispatch.Run{
		ConversationID: "conv_a",
		Batch:          trigger.Batch{Representative: tr, Members: []trigger.Trigger{tr}},
		History: []conversation.Message{{
			ID:             "msg_cmd",
			ConversationID: "conv_a",
			Role:           conversation.RoleTeam,
			Visibility:     trigger.VisibilityPrivate,
			Body:           body,
			TriggerID:      "trg_cmd",
			CreatedAt:      time.Now(),
		}},
	}
}

func TestDecide_SilentWhenTeamAlreadyRepliedPublicly(t *testing.T) {
	agent := newAgent(&stubRepo{}, &stubGenerator{}, newGuard())

	run := visitorRun(conversation.Message{
		Role:       conversation.RoleTeam,
		Visibility: trigger.VisibilityPublic,
		Body:       "I've got this one.",
		CreatedAt:  time.Now(),
	})

	decision, err := agent.Decide(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, dispatch.DecisionSilent, decision)
}

func TestDecide_RespondsByDefault(t *testing.T) {
	agent := newAgent(&stubRepo{}, &stubGenerator{}, newGuard())

	run := visitorRun(conversation.Message{
		Role:       conversation.RoleVisitor,
		Visibility: trigger.VisibilityPublic,
		Body:       "How do I reset my password?",
		CreatedAt:  time.Now(),
	})

	decision, err := agent.Decide(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, dispatch.DecisionRespond, decision)
}

func TestGenerate_VisitorMessageUsesGenerator(t *testing.T) {
	gen := &stubGenerator{reply: "Go to settings and click reset."}
	agent := newAgent(&stubRepo{subject: "Password help"}, gen, newGuard())

	drafts, err := agent.Generate(context.Background(), visitorRun())
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.True(t, drafts[0].Public)
	require.Equal(t, "Go to settings and click reset.", drafts[0].Body)
	require.Equal(t, 1, gen.calls)
}

func TestGenerate_CommandSkipsGenerator(t *testing.T) {
	gen := &stubGenerator{reply: "should not be used"}
	agent := newAgent(&stubRepo{}, gen, newGuard())

	drafts, err := agent.Generate(context.Background(), commandRun("/pause"))
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.False(t, drafts[0].Public, "command acknowledgements are private")
	require.Zero(t, gen.calls)
}

func TestExecute_PauseCommandPausesAgent(t *testing.T) {
	guard := newGuard()
	agent := newAgent(&stubRepo{}, &stubGenerator{}, guard)

	require.NoError(t, agent.Execute(context.Background(), commandRun("/pause")))

	paused, err := guard.IsPaused(context.Background(), "conv_a", time.Now())
	require.NoError(t, err)
	require.True(t, paused)
}

func TestExecute_PauseCommandWithDuration(t *testing.T) {
	guard := newGuard()
	agent := newAgent(&stubRepo{}, &stubGenerator{}, guard)

	require.NoError(t, agent.Execute(context.Background(), commandRun("/pause 2h")))

	until, ok, err := guard.PausedUntil(context.Background(), "conv_a")
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(2*time.Hour), until, time.Minute)
}

func TestExecute_ResumeCommandClearsPause(t *testing.T) {
	guard := newGuard()
	agent := newAgent(&stubRepo{}, &stubGenerator{}, guard)

	require.NoError(t, agent.Execute(context.Background(), commandRun("/pause")))
	require.NoError(t, agent.Execute(context.Background(), commandRun("/resume")))

	paused, err := guard.IsPaused(context.Background(), "conv_a", time.Now())
	require.NoError(t, err)
	require.False(t, paused)
}

func TestExecute_NoOpForVisitorRuns(t *testing.T) {
	guard := newGuard()
	agent := newAgent(&stubRepo{}, &stubGenerator{}, guard)

	require.NoError(t, agent.Execute(context.Background(), visitorRun()))

	paused, err := guard.IsPaused(context.Background(), "conv_a", time.Now())
	require.NoError(t, err)
	require.False(t, paused)
}

func TestFollowup_TouchesConversation(t *testing.T) {
	repo := &stubRepo{}
	agent := newAgent(repo, &stubGenerator{}, newGuard())

	require.NoError(t, agent.Followup(context.Background(), visitorRun()))
	require.Equal(t, 1, repo.touched)
}
