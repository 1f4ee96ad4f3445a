package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	definitionKeyPrefix = "taskgraph:def:"
	releasedKeyPrefix   = "taskgraph:released:"
	rerunKeyPrefix      = "taskgraph:rerun:"
)

// KEYS: definition, released marker, queue. ARGV: task ref.
// Returns -1 when undefined, 1 when queued, 0 when already released.
var releaseScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("SET", KEYS[2], "1", "NX") then
  redis.call("RPUSH", KEYS[3], ARGV[1])
  return 1
end
return 0
`)

// KEYS: definition, rerun marker, queue. ARGV: task ref.
// Returns -1 when undefined, 1 when queued, 0 when the attempt was queued before.
var rerunScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("SET", KEYS[2], "1", "NX") then
  redis.call("RPUSH", KEYS[3], ARGV[1])
  return 1
end
return 0
`)

// RedisDispatcher keeps task definitions in redis and feeds released tasks
// to the pending queue the workers pop from.
type RedisDispatcher struct {
	client    *redis.Client
	queueName string
}

func NewRedisDispatcher(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client, queueName: PendingQueueKey}
}

func definitionKey(ref domain.TaskRef) string { return definitionKeyPrefix + ref.String() }
func releasedKey(ref domain.TaskRef) string   { return releasedKeyPrefix + ref.String() }

func rerunKey(ref domain.TaskRef, attempt int) string {
	return rerunKeyPrefix + ref.String() + ":" + strconv.Itoa(attempt)
}

// Define stores the definition once. Redefining with the same content is a
// no-op so that a failed ingestion can be retried.
func (d *RedisDispatcher) Define(ctx context.Context, ref domain.TaskRef, def domain.TaskDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return errors.Wrapf(err, "encode definition of %s", ref)
	}

	created, err := d.client.SetNX(ctx, definitionKey(ref), payload, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "define %s", ref)
	}
	if created {
		return nil
	}

	existing, err := d.client.Get(ctx, definitionKey(ref)).Bytes()
	if err != nil {
		return errors.Wrapf(err, "define %s", ref)
	}
	if !bytes.Equal(existing, payload) {
		return errors.Wrapf(ports.ErrDefinitionConflict, "define %s", ref)
	}
	return nil
}

func (d *RedisDispatcher) Release(ctx context.Context, ref domain.TaskRef) error {
	keys := []string{definitionKey(ref), releasedKey(ref), d.queueName}
	n, err := releaseScript.Run(ctx, d.client, keys, ref.String()).Int()
	if err != nil {
		return errors.Wrapf(err, "release %s", ref)
	}
	if n < 0 {
		return errors.Wrapf(ports.ErrNotDefined, "release %s", ref)
	}
	return nil
}

func (d *RedisDispatcher) Rerun(ctx context.Context, ref domain.TaskRef, attempt int) error {
	keys := []string{definitionKey(ref), rerunKey(ref, attempt), d.queueName}
	n, err := rerunScript.Run(ctx, d.client, keys, ref.String()).Int()
	if err != nil {
		return errors.Wrapf(err, "rerun %s", ref)
	}
	if n < 0 {
		return errors.Wrapf(ports.ErrNotDefined, "rerun %s", ref)
	}
	return nil
}
