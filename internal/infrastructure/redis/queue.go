package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// PendingQueueKey is the list released task refs are pushed onto.
const PendingQueueKey = "taskgraph:queue:pending"

// defaultPollTimeout bounds one BLPOP so Pop notices a cancelled context.
// Redis takes whole seconds.
const defaultPollTimeout = time.Second

type RedisQueue struct {
	client      *redis.Client
	queueName   string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:      client,
		queueName:   PendingQueueKey,
		pollTimeout: defaultPollTimeout,
	}
}

// Push adds a task ref to the end of the list
func (q *RedisQueue) Push(ctx context.Context, ref string) error {
	return errors.Wrap(q.client.RPush(ctx, q.queueName, ref).Err(), "push task ref")
}

// Pop waits for a task ref and removes it from the front of the list
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := q.client.BLPop(ctx, q.pollTimeout, q.queueName).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "pop task ref")
		}
		// BLPop returns a slice: [QueueName, Element]
		return result[1], nil
	}
}
