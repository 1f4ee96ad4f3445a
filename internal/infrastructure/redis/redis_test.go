package redis

import (
	"context"
	"testing"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testRef() domain.TaskRef {
	return domain.TaskRef{GraphID: uuid.New(), TaskID: "build"}
}

func testDefinition() domain.TaskDefinition {
	return domain.TaskDefinition{
		Routing:  "sched.g.ci",
		Action:   "echo",
		Payload:  map[string]any{"msg": "hi"},
		Deadline: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), addr)
	assert.Error(t, err)
}

func TestDispatcherDefine(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	d := NewRedisDispatcher(client)
	ref := testRef()

	require.NoError(t, d.Define(ctx, ref, testDefinition()))
	require.NoError(t, d.Define(ctx, ref, testDefinition()), "identical redefinition is a no-op")

	changed := testDefinition()
	changed.Action = "fail"
	err := d.Define(ctx, ref, changed)
	assert.ErrorIs(t, err, ports.ErrDefinitionConflict)
}

func TestDispatcherReleaseQueuesOnce(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	d := NewRedisDispatcher(client)
	ref := testRef()

	err := d.Release(ctx, ref)
	assert.ErrorIs(t, err, ports.ErrNotDefined)

	require.NoError(t, d.Define(ctx, ref, testDefinition()))
	for range 3 {
		require.NoError(t, d.Release(ctx, ref))
	}

	queued, err := mr.List(PendingQueueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{ref.String()}, queued)
}

func TestDispatcherRerun(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	d := NewRedisDispatcher(client)
	ref := testRef()

	assert.ErrorIs(t, d.Rerun(ctx, ref, 1), ports.ErrNotDefined)

	require.NoError(t, d.Define(ctx, ref, testDefinition()))
	require.NoError(t, d.Release(ctx, ref))
	require.NoError(t, d.Rerun(ctx, ref, 1))
	require.NoError(t, d.Rerun(ctx, ref, 1))
	require.NoError(t, d.Release(ctx, ref))

	queued, err := mr.List(PendingQueueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{ref.String(), ref.String()}, queued, "a repeated attempt is queued once")

	require.NoError(t, d.Rerun(ctx, ref, 0))
	queued, err = mr.List(PendingQueueKey)
	require.NoError(t, err)
	assert.Len(t, queued, 3)
}

func TestQueueFIFO(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	q := NewRedisQueue(client)

	require.NoError(t, q.Push(ctx, "g/a"))
	require.NoError(t, q.Push(ctx, "g/b"))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g/a", first)
	assert.Equal(t, "g/b", second)
}

func TestQueuePopCancelled(t *testing.T) {
	_, client := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedisQueue(client).Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func receive(t *testing.T, ch <-chan ports.Delivery) ports.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return ports.Delivery{}
	}
}

func newTestBus(client *redis.Client) *RedisEventBus {
	bus := NewRedisEventBus(client, "c1")
	bus.Block = 50 * time.Millisecond
	bus.RetryDelay = 10 * time.Millisecond
	return bus
}

func TestEventBusRedeliversUnacked(t *testing.T) {
	_, client := newTestClient(t)
	bus := newTestBus(client)
	graphID := uuid.New()

	first := domain.TaskResolvedEvent{ID: "01", GraphID: graphID, TaskID: "a", Success: true}
	second := domain.TaskResolvedEvent{ID: "02", GraphID: graphID, TaskID: "b", Success: false, Reason: "boom"}
	require.NoError(t, bus.PublishTaskResolved(context.Background(), first))
	require.NoError(t, bus.PublishTaskResolved(context.Background(), second))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.SubscribeToResolutions(ctx)
	require.NoError(t, err)

	d := receive(t, ch)
	assert.Equal(t, first, d.Event)
	require.NoError(t, d.Ack(ctx))

	d = receive(t, ch)
	assert.Equal(t, second, d.Event)
	cancel() // second is never acked

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	ch, err = newTestBus(client).SubscribeToResolutions(ctx)
	require.NoError(t, err, "joining an existing group is fine")

	d = receive(t, ch)
	assert.Equal(t, second, d.Event)
	require.NoError(t, d.Ack(ctx))

	pending, err := client.XPending(context.Background(), ResolvedStreamKey, CoordinatorGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestEventBusDropsMalformedEntries(t *testing.T) {
	_, client := newTestClient(t)
	bus := newTestBus(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: ResolvedStreamKey,
		Values: map[string]any{"garbage": "1"},
	}).Err())
	valid := domain.TaskResolvedEvent{ID: "03", GraphID: uuid.New(), TaskID: "c", Success: true}
	require.NoError(t, bus.PublishTaskResolved(ctx, valid))

	ch, err := bus.SubscribeToResolutions(ctx)
	require.NoError(t, err)

	d := receive(t, ch)
	assert.Equal(t, valid, d.Event)
}
