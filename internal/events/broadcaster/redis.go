package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"shadowgate/internal/events"
)

// channelPrefix namespaces the per-user Pub/Sub channels. The realtime
// gateway holding the client connection subscribes to its users' channels
// and forwards whatever arrives.
const channelPrefix = "ops:events:"

// Redis delivers events over Redis Pub/Sub, one channel per user.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis constructs a Redis-backed broadcaster.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (b *Redis) Broadcast(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+event.UserID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Channel returns the Pub/Sub channel name for a user. Exposed for the
// gateway side and for integration tests.
func Channel(userID string) string {
	return channelPrefix + userID
}
