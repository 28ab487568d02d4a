// Package llmclient generates reply drafts with an OpenAI-compatible API.
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
)

const systemPrompt = "You are a support agent for this product. Answer the visitor's " +
	"latest messages using the conversation so far. Be concise and concrete. " +
	"If you cannot help, say so and suggest escalating to the team."

// Config holds LLM connectivity settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds the client. BaseURL may point at any OpenAI-compatible
// endpoint.
func NewClient(cfg Config) *Client {
	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(apiConfig),
		model: cfg.Model,
	}
}

// Complete produces one reply for the conversation history, oldest first.
func (c *Client) Complete(ctx context.Context, subject string, history []conversation.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)

	prompt := systemPrompt
	if subject != "" {
		prompt += "\nConversation subject: " + subject
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: prompt,
	})

	for _, msg := range history {
		messages = append(messages, toChatMessage(msg))
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// toChatMessage maps conversation roles onto the chat API. Team and visitor
// messages are both user turns; the author tag keeps them distinguishable.
func toChatMessage(msg conversation.Message) openai.ChatCompletionMessage {
	switch msg.Role {
	case conversation.RoleAssistant:
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: msg.Body,
		}
	case conversation.RoleTeam:
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: "[team] " + msg.Body,
		}
	default:
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: msg.Body,
		}
	}
}
