package handlers

import (
	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/ingest"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// Provider wires all HTTP handlers for dependency injection.
type Provider struct {
	Message *MessageHandler
	Agent   *AgentHandler
}

// NewProvider constructs the handler provider with domain services.
func NewProvider(
	ingestService *ingest.Service,
	conversations conversation.Repository,
	triggers trigger.Repository,
	guard *rogue.Guard,
	scheduler dispatch.WakeScheduler,
	log zerolog.Logger,
) *Provider {
	return &Provider{
		Message: NewMessageHandler(ingestService, log),
		Agent:   NewAgentHandler(conversations, triggers, guard, scheduler, log),
	}
}
