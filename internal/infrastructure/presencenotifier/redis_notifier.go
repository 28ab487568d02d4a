// Package presencenotifier publishes typing state over Redis pub/sub for the
// dashboard's realtime edge to relay.
package presencenotifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supportdeck/agent-server/internal/domain/presence"
)

const channelPrefix = "agent:typing:"

type typingEvent struct {
	ConversationID string    `json:"conversation_id"`
	Typing         bool      `json:"typing"`
	At             time.Time `json:"at"`
}

// RedisNotifier implements presence.Notifier.
type RedisNotifier struct {
	client redis.UniversalClient
}

var _ presence.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier builds a notifier over the shared client.
func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// StartTyping implements presence.Notifier.
func (n *RedisNotifier) StartTyping(ctx context.Context, conversationID string) error {
	return n.publish(ctx, conversationID, true)
}

// StopTyping implements presence.Notifier.
func (n *RedisNotifier) StopTyping(ctx context.Context, conversationID string) error {
	return n.publish(ctx, conversationID, false)
}

func (n *RedisNotifier) publish(ctx context.Context, conversationID string, typing bool) error {
	payload, err := json.Marshal(typingEvent{
		ConversationID: conversationID,
		Typing:         typing,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, channelPrefix+conversationID, payload).Err()
}
