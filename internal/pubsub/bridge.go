package pubsub

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/docusign-alternative/platform/realtime-service/internal/event"
	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
)

// Envelope wraps an event on the wire with the publishing instance's id so a
// subscriber can tell its own events from foreign ones.
type Envelope struct {
	Origin string       `json:"origin"`
	Event  *event.Event `json:"event"`
}

// Bridge propagates events across server processes over one logical Redis
// channel. Delivery is best-effort: no acknowledgment, no cross-publisher
// ordering.
type Bridge struct {
	client     *redis.Client
	channel    string
	instanceID string
}

// New validates connectivity and returns a bridge. Callers should treat an
// error as "run single-instance", not as fatal.
func New(ctx context.Context, client *redis.Client, channel string) (*Bridge, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Bridge{
		client:     client,
		channel:    channel,
		instanceID: ulid.Make().String(),
	}, nil
}

// InstanceID identifies this process on the shared channel.
func (b *Bridge) InstanceID() string { return b.instanceID }

// Publish puts a locally-originated event on the shared channel.
func (b *Bridge) Publish(ctx context.Context, ev *event.Event) error {
	data, err := json.Marshal(Envelope{Origin: b.instanceID, Event: ev})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Listen consumes the shared channel until ctx ends and hands every
// foreign-origin event to deliver. Received events are never re-published,
// which is what prevents propagation loops across any number of processes.
// Blocking; run it on its own goroutine.
func (b *Bridge) Listen(ctx context.Context, deliver func(*event.Event)) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	logger.Infof("pubsub bridge listening on %q (instance %s)", b.channel, b.instanceID)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Warnf("pubsub channel closed, cross-instance delivery stopped")
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warnf("dropping malformed pubsub payload: %v", err)
				continue
			}
			if env.Origin == b.instanceID || env.Event == nil {
				continue
			}
			deliver(env.Event)
		}
	}
}
