// Package classifier calls the continuation classification service over HTTP.
package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/supportdeck/agent-server/internal/domain/continuation"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

type classifyRequest struct {
	ConversationID string   `json:"conversation_id"`
	TriggerID      string   `json:"trigger_id"`
	TriggerKind    string   `json:"trigger_kind"`
	MemberIDs      []string `json:"member_ids"`
}

type classifyResponse struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
}

// Client implements continuation.Classifier against the classifier service.
// The breaker keeps a flapping classifier from adding its timeout to every
// drain; an open breaker fails fast and the caller supplements.
type Client struct {
	httpClient *resty.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

var _ continuation.Classifier = (*Client)(nil)

// NewClient creates a Resty-backed classifier client.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	componentLog := log.With().Str("component", "classifier-client").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "continuation-classifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLog.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("classifier circuit breaker state changed")
		},
	})

	return &Client{
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		breaker: breaker,
		log:     componentLog,
	}
}

// Classify calls POST /v1/classify.
func (c *Client) Classify(ctx context.Context, conversationID string, batch trigger.Batch) (continuation.Decision, float64, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		var out classifyResponse
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetBody(classifyRequest{
				ConversationID: conversationID,
				TriggerID:      batch.Representative.ID,
				TriggerKind:    string(batch.Representative.Kind),
				MemberIDs:      batch.MemberIDs(),
			}).
			SetResult(&out).
			Post("/v1/classify")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("classifier error: %s", resp.String())
		}
		return &out, nil
	})
	if err != nil {
		return "", 0, err
	}

	out := result.(*classifyResponse)
	if out.Decision == string(continuation.DecisionSkip) {
		return continuation.DecisionSkip, out.Confidence, nil
	}
	return continuation.DecisionSupplement, out.Confidence, nil
}
