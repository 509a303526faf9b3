package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes notifications on a per-user Redis channel
// (<prefix>:<user id>). Relay feeds the messages of other processes into
// the local EventBus, so API replicas see notifications written by worker
// processes.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	origin string
}

// NewRedisPublisher creates a publisher tagged with origin, which must be
// unique per process.
func NewRedisPublisher(client *redis.Client, prefix, origin string) *RedisPublisher {
	if prefix == "" {
		prefix = "dubhub:notify"
	}
	return &RedisPublisher{client: client, prefix: prefix, origin: origin}
}

// Channel returns the channel name used for a user.
func (p *RedisPublisher) Channel(n Notification) string {
	return p.prefix + ":" + n.UserID.String()
}

func (p *RedisPublisher) Notify(ctx context.Context, n Notification) error {
	n.Origin = p.origin
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(n), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Relay subscribes to every user channel and publishes foreign
// notifications on bus until ctx is done.
func (p *RedisPublisher) Relay(ctx context.Context, bus *EventBus, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	sub := p.client.PSubscribe(ctx, p.prefix+":*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	log.Info("relaying notifications", "pattern", p.prefix+":*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.deliver(bus, msg.Payload); err != nil {
				log.Warn("drop relayed notification", "channel", msg.Channel, "error", err)
			}
		}
	}
}

// deliver decodes one relayed payload and publishes it unless this process
// sent it.
func (p *RedisPublisher) deliver(bus *EventBus, payload string) error {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if n.Origin == p.origin {
		return nil
	}
	n.Seq = 0
	bus.Publish(n)
	return nil
}
