package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/trungvv/ripcord/internal/core/domain"
)

const eventChannel = "ripcord:events"

// EventPublisher forwards lifecycle events to a Redis pub/sub channel.
type EventPublisher struct {
	client *Client
	log    *slog.Logger
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(client *Client, log *slog.Logger) *EventPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &EventPublisher{client: client, log: log}
}

// Publish sends one event. Publish failures are logged, never escalated;
// events are fire-and-forget by contract.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.rdb.Publish(ctx, eventChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run pumps a subscription channel to Redis until ctx cancels or the
// channel closes.
func (p *EventPublisher) Run(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.log.Warn("event publish failed", "type", ev.Type, "task", ev.TaskID, "error", err)
			}
		}
	}
}
