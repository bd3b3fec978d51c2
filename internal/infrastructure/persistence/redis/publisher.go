package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

// ChannelPrefix namespaces pub/sub channels.
const ChannelPrefix = "melonrank:events:"

// Channel returns the pub/sub channel for an event type.
func Channel(t shared.EventType) string {
	return ChannelPrefix + string(t)
}

// EventPublisher forwards domain events to Redis pub/sub as JSON envelopes.
// It is meant to be subscribed to the in-process bus with SubscribeAll so
// dashboards outside the bot can follow level-ups live.
type EventPublisher struct {
	client  *redis.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(client *redis.Client, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{
		client:  client,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Publish sends a single event.
func (p *EventPublisher) Publish(ctx context.Context, event shared.Event) error {
	env, err := shared.NewEnvelope(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return p.client.Publish(ctx, Channel(event.EventType()), data).Err()
}

// Handle adapts Publish to shared.EventHandler.
func (p *EventPublisher) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.Publish(ctx, event); err != nil {
		p.logger.Warn("failed to forward event to redis",
			"event_type", event.EventType(),
			"error", err,
		)
		return err
	}
	return nil
}
