package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	ResolvedStreamKey = "taskgraph:events:resolved"
	CoordinatorGroup  = "coordinator"

	eventField = "event"
)

// RedisEventBus carries resolution events on a stream read through a
// consumer group. An entry stays pending until its delivery is acked, and a
// consumer re-reads its own pending entries whenever it goes idle, so a
// failed or interrupted handling is retried.
type RedisEventBus struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string

	// Block is how long one read waits for new entries.
	Block time.Duration
	// Batch is the maximum number of entries per read.
	Batch int64
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

func NewRedisEventBus(client *redis.Client, consumer string) *RedisEventBus {
	return &RedisEventBus{
		client:     client,
		stream:     ResolvedStreamKey,
		group:      CoordinatorGroup,
		consumer:   consumer,
		Block:      2 * time.Second,
		Batch:      32,
		RetryDelay: time.Second,
	}
}

// PublishTaskResolved appends the event to the stream
func (b *RedisEventBus) PublishTaskResolved(ctx context.Context, event domain.TaskResolvedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode resolution event")
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{eventField: payload},
	}).Err()
	return errors.Wrapf(err, "publish resolution of %s", event.Ref())
}

// SubscribeToResolutions joins the consumer group and streams its entries,
// starting with the ones this consumer left unacknowledged.
func (b *RedisEventBus) SubscribeToResolutions(ctx context.Context) (<-chan ports.Delivery, error) {
	err := b.client.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, errors.Wrapf(err, "create consumer group %s", b.group)
	}

	out := make(chan ports.Delivery)
	go b.consume(ctx, out)
	return out, nil
}

func (b *RedisEventBus) consume(ctx context.Context, out chan<- ports.Delivery) {
	defer close(out)
	log := ctxlog.FromContext(ctx).With("stream", b.stream, "consumer", b.consumer)

	// "0" pages through our pending entries, ">" asks for new ones.
	cursor := "0"
	for ctx.Err() == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{b.stream, cursor},
			Count:    b.Batch,
			Block:    b.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			// Idle: look at the pending entries again.
			cursor = "0"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to read resolution events", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.RetryDelay):
			}
			continue
		}

		var messages []redis.XMessage
		for _, s := range streams {
			messages = append(messages, s.Messages...)
		}
		if cursor != ">" {
			if len(messages) == 0 {
				cursor = ">"
				continue
			}
			cursor = messages[len(messages)-1].ID
		}

		for _, msg := range messages {
			event, err := decodeEvent(msg)
			if err != nil {
				// Nothing will ever decode it; drop it.
				log.Warn("Dropping malformed resolution event", "id", msg.ID, "error", err)
				if err := b.ack(ctx, msg.ID); err != nil {
					log.Error("Failed to ack malformed event", "id", msg.ID, "error", err)
				}
				continue
			}
			id := msg.ID
			delivery := ports.Delivery{
				Event: event,
				Ack:   func(ctx context.Context) error { return b.ack(ctx, id) },
			}
			select {
			case out <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *RedisEventBus) ack(ctx context.Context, id string) error {
	return errors.Wrapf(b.client.XAck(ctx, b.stream, b.group, id).Err(), "ack %s", id)
}

func decodeEvent(msg redis.XMessage) (domain.TaskResolvedEvent, error) {
	var event domain.TaskResolvedEvent
	raw, ok := msg.Values[eventField].(string)
	if !ok {
		return event, errors.Errorf("entry %s has no %q field", msg.ID, eventField)
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, errors.Wrapf(err, "decode entry %s", msg.ID)
	}
	return event, nil
}
