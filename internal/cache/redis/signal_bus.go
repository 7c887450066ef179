package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// subscribeBuffer is the per-subscription delivery buffer.
const subscribeBuffer = 128

// SignalBus implements domain.SignalBus with Redis Pub/Sub. A scan-only
// process publishes opportunities on it and a server-only process relays
// them to its websocket subscribers. Pub/Sub is fire-and-forget: a server
// that is down while a pass publishes misses those messages and picks up
// the current state from the opportunity cache instead.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload on channel within the client's operation timeout.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	ctx, cancel := sb.c.withTimeout(ctx)
	defer cancel()

	if err := sb.c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, classify(err))
	}
	return nil
}

// Subscribe confirms the subscription with Redis and then streams payloads
// until ctx is cancelled or the connection is lost, at which point the
// returned channel is closed.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, channel)

	rctx, cancel := sb.c.withTimeout(ctx)
	_, err := pubsub.Receive(rctx)
	cancel()
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, classify(err))
	}

	in := pubsub.Channel(redis.WithChannelSize(subscribeBuffer))
	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
