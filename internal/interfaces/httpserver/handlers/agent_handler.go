package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/interfaces/httpserver/responses"
)

// AgentHandler exposes per-conversation agent state and the resume control.
type AgentHandler struct {
	conversations conversation.Repository
	triggers      trigger.Repository
	guard         *rogue.Guard
	scheduler     dispatch.WakeScheduler
	log           zerolog.Logger
}

// NewAgentHandler builds the handler.
func NewAgentHandler(
	conversations conversation.Repository,
	triggers trigger.Repository,
	guard *rogue.Guard,
	scheduler dispatch.WakeScheduler,
	log zerolog.Logger,
) *AgentHandler {
	return &AgentHandler{
		conversations: conversations,
		triggers:      triggers,
		guard:         guard,
		scheduler:     scheduler,
		log:           log.With().Str("handler", "agent").Logger(),
	}
}

type agentStateResponse struct {
	ConversationID  string     `json:"conversation_id"`
	Paused          bool       `json:"paused"`
	PausedUntil     *time.Time `json:"paused_until,omitempty"`
	PendingTriggers int        `json:"pending_triggers"`
	Cursor          string     `json:"cursor,omitempty"`
}

// State handles GET /v1/conversations/:id/agent.
func (h *AgentHandler) State(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, err := h.conversations.FindByID(ctx, conversationID); err != nil {
		responses.HandleError(c, err, "conversation not found")
		return
	}

	pending, err := h.triggers.Pending(ctx, conversationID)
	if err != nil {
		responses.HandleError(c, err, "failed to read trigger queue")
		return
	}

	cursor, err := h.triggers.Cursor(ctx, conversationID)
	if err != nil {
		responses.HandleError(c, err, "failed to read cursor")
		return
	}

	resp := agentStateResponse{
		ConversationID:  conversationID,
		PendingTriggers: len(pending),
		Cursor:          cursor,
	}

	until, ok, err := h.guard.PausedUntil(ctx, conversationID)
	if err != nil {
		responses.HandleError(c, err, "failed to read pause state")
		return
	}
	if ok && time.Now().Before(until) {
		resp.Paused = true
		resp.PausedUntil = &until
	}

	c.JSON(http.StatusOK, resp)
}

// Resume handles POST /v1/conversations/:id/agent/resume. Clearing the pause
// does not replay dropped triggers; the wake lets the agent pick up anything
// still queued.
func (h *AgentHandler) Resume(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")

	if _, err := h.conversations.FindByID(ctx, conversationID); err != nil {
		responses.HandleError(c, err, "conversation not found")
		return
	}

	if err := h.guard.Resume(ctx, conversationID); err != nil {
		responses.HandleError(c, err, "failed to resume agent")
		return
	}

	if err := h.scheduler.ScheduleWake(ctx, conversationID, 0); err != nil {
		h.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Msg("failed to schedule wake after resume")
	}

	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}
