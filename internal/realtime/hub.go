// Package realtime implements the per-student session channel on top of
// redis pub/sub. A subscription lives only as long as its connection: a
// client that reconnects joins again from scratch, and anything published
// while it was away is simply gone. Clients compensate by re-fetching on
// reconnect.
package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Hub hands out per-student channel subscriptions.
type Hub struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewHub constructs the hub.
func NewHub(client *redis.Client, channelPrefix string, logger *zap.Logger) *Hub {
	if channelPrefix == "" {
		channelPrefix = "maintenance:events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{client: client, prefix: channelPrefix, logger: logger}
}

// Channel returns the pub/sub channel key for a student.
func (h *Hub) Channel(studentID string) string {
	return fmt.Sprintf("%s:%s", h.prefix, studentID)
}

// Subscription is one live connection to a student's channel.
type Subscription struct {
	pubsub *redis.PubSub
	events chan []byte
}

// Events yields raw event payloads until the subscription closes.
func (s *Subscription) Events() <-chan []byte {
	return s.events
}

// Close tears the subscription down. Idempotent.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe joins the student's channel. The returned subscription is bound
// to ctx; when ctx ends the events channel closes.
func (h *Hub) Subscribe(ctx context.Context, studentID string) (*Subscription, error) {
	pubsub := h.client.Subscribe(ctx, h.Channel(studentID))

	// Force the SUBSCRIBE round-trip so a broken redis connection surfaces
	// here instead of as a silently empty stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("join channel: %w", err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan []byte, 16),
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case sub.events <- []byte(msg.Payload):
				default:
					// Slow consumer: drop the event. It is only a hint and
					// the client re-fetches on the next one anyway.
					h.logger.Debug("event dropped for slow subscriber",
						zap.String("student_id", studentID))
				}
			}
		}
	}()

	return sub, nil
}
