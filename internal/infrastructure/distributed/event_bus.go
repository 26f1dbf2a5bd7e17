package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bzinkan/ClassPilot-sub005/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const broadcastEventsChannel = "classpilot:events:broadcast"

// broadcastEventMessage is the wire form of a broadcast lifecycle event
// on the redis pub/sub channel.
type broadcastEventMessage struct {
	InstanceID  string          `json:"instance_id"`
	Broadcaster domain.Identity `json:"broadcaster"`
	ViewerCount int             `json:"viewer_count"`
	Active      bool            `json:"active"`
	At          time.Time       `json:"at"`
}

// EventBus publishes broadcast lifecycle events over redis pub/sub so
// other relay instances and telemetry consumers see them. Events are
// best-effort; delivery never gates signaling.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (b *EventBus) PublishBroadcast(ctx context.Context, event domain.BroadcastEvent) error {
	msg := broadcastEventMessage{
		InstanceID:  b.instanceID,
		Broadcaster: event.Broadcaster,
		ViewerCount: event.ViewerCount,
		Active:      event.Active,
		At:          event.At,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast event: %w", err)
	}

	if err := b.client.Publish(ctx, broadcastEventsChannel, data).Err(); err != nil {
		return fmt.Errorf("publish broadcast event: %w", err)
	}
	return nil
}

// SubscribeBroadcast delivers events published by other instances to
// handler until ctx is cancelled. Events published by this instance are
// filtered out.
func (b *EventBus) SubscribeBroadcast(ctx context.Context, handler func(event domain.BroadcastEvent)) error {
	sub := b.client.Subscribe(ctx, broadcastEventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg broadcastEventMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.logger.Warnw("dropping malformed broadcast event", "error", err)
				continue
			}
			if msg.InstanceID == b.instanceID {
				continue
			}
			handler(domain.BroadcastEvent{
				Broadcaster: msg.Broadcaster,
				ViewerCount: msg.ViewerCount,
				Active:      msg.Active,
				At:          msg.At,
			})
		}
	}
}
