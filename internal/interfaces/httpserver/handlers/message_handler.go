package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/ingest"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
	"github.com/supportdeck/agent-server/internal/interfaces/httpserver/responses"
)

// MessageHandler accepts inbound conversation messages.
type MessageHandler struct {
	ingest *ingest.Service
	log    zerolog.Logger
}

// NewMessageHandler builds the handler.
func NewMessageHandler(ingestService *ingest.Service, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		ingest: ingestService,
		log:    log.With().Str("handler", "message").Logger(),
	}
}

type createMessageRequest struct {
	Role       string `json:"role" binding:"required"`
	Visibility string `json:"visibility"`
	Body       string `json:"body" binding:"required"`
}

type createMessageResponse struct {
	MessageID string `json:"message_id"`
	TriggerID string `json:"trigger_id,omitempty"`
	Enqueued  bool   `json:"enqueued"`
}

// Create handles POST /v1/conversations/:id/messages.
func (h *MessageHandler) Create(c *gin.Context) {
	conversationID := c.Param("id")

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, responses.ErrorResponse{Error: "invalid request body"})
		return
	}

	role := conversation.Role(req.Role)
	if role != conversation.RoleVisitor && role != conversation.RoleTeam {
		c.AbortWithStatusJSON(http.StatusBadRequest, responses.ErrorResponse{Error: "role must be visitor or team"})
		return
	}

	visibility := trigger.VisibilityPublic
	switch req.Visibility {
	case "", string(trigger.VisibilityPublic):
	case string(trigger.VisibilityPrivate):
		visibility = trigger.VisibilityPrivate
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, responses.ErrorResponse{Error: "visibility must be public or private"})
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), conversationID, role, visibility, req.Body)
	if err != nil {
		responses.HandleError(c, err, "failed to ingest message")
		return
	}

	c.JSON(http.StatusAccepted, createMessageResponse{
		MessageID: result.MessageID,
		TriggerID: result.TriggerID,
		Enqueued:  result.Enqueued,
	})
}
