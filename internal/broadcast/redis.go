package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/juliana/internal/events"
)

// DefaultChannelPrefix namespaces the pub/sub channels.
const DefaultChannelPrefix = "juliana"

// RedisPublisher publishes event payloads on a Redis pub/sub channel per topic.
type RedisPublisher struct {
	Client redis.Cmdable
	Prefix string
}

// Channel returns the pub/sub channel used for topic.
func (p RedisPublisher) Channel(topic string) string {
	prefix := strings.TrimSpace(p.Prefix)
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return prefix + ":" + topic
}

// Notify implements events.Notifier.
func (p RedisPublisher) Notify(ctx context.Context, event events.Event) error {
	if p.Client == nil {
		return errors.New("broadcast: redis client not configured")
	}
	if err := p.Client.Publish(ctx, p.Channel(event.Topic), []byte(event.Payload)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Topic, err)
	}
	return nil
}
