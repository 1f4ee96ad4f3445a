package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-taskgraph/internal/core/memory"
	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/core/retry"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/metrics"
	"go-taskgraph/internal/scheduler"
	"go-taskgraph/internal/status"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fixture struct {
	store       *memory.Store
	dispatcher  *memory.Dispatcher
	coordinator *Coordinator
	graph       *domain.TaskGraph
}

func newFixture(t *testing.T, bus ports.EventBus) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(retry.DefaultPolicy())
	dispatcher := memory.NewDispatcher(memory.NewQueue())
	propagator := scheduler.NewPropagator(store, dispatcher, metrics.New(prometheus.NewRegistry()))

	graph := domain.NewTaskGraph(uuid.New(), "sched")
	a := domain.NewTask(graph.ID, "a")
	a.Dependents = datatypes.JSONSlice[string]{"b"}
	a.RerunsAllowed, a.RerunsLeft = 1, 1
	b := domain.NewTask(graph.ID, "b")
	b.Requires = datatypes.JSONSlice[string]{"a"}
	b.RequiresLeft = datatypes.JSONSlice[string]{"a"}
	require.NoError(t, store.CreateGraph(ctx, graph, []domain.Task{*a, *b}))
	for _, task := range []*domain.Task{a, b} {
		require.NoError(t, dispatcher.Define(ctx, task.Ref(), domain.TaskDefinition{Action: "noop"}))
	}

	return &fixture{
		store:       store,
		dispatcher:  dispatcher,
		coordinator: NewCoordinator(store, propagator, status.NewRefresher(store, store), bus),
		graph:       graph,
	}
}

func (f *fixture) resolve(t *testing.T, id string, success bool) domain.TaskResolvedEvent {
	t.Helper()
	ref := domain.TaskRef{GraphID: f.graph.ID, TaskID: id}
	_, err := f.store.Modify(context.Background(), ref, func(task *domain.Task) error {
		task.Resolution = &domain.Resolution{Success: success, ResolvedAt: time.Now()}
		return nil
	})
	require.NoError(t, err)
	return domain.TaskResolvedEvent{ID: id, GraphID: f.graph.ID, TaskID: id, Success: success}
}

func (f *fixture) ref(id string) domain.TaskRef {
	return domain.TaskRef{GraphID: f.graph.ID, TaskID: id}
}

func (f *fixture) state(t *testing.T) domain.GraphState {
	t.Helper()
	g, err := f.store.GetGraph(context.Background(), f.graph.ID)
	require.NoError(t, err)
	return g.State
}

func TestHandleSuccessReleasesDependents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	event := f.resolve(t, "a", true)
	require.NoError(t, f.coordinator.handleTaskResolved(ctx, event))
	require.NoError(t, f.coordinator.handleTaskResolved(ctx, event), "redelivery is harmless")

	assert.True(t, f.dispatcher.Released(f.ref("b")))
	assert.Equal(t, 1, f.dispatcher.ReleaseCalls(f.ref("b")))
	assert.Equal(t, domain.GraphRunning, f.state(t))

	require.NoError(t, f.coordinator.handleTaskResolved(ctx, f.resolve(t, "b", true)))
	assert.Equal(t, domain.GraphFinished, f.state(t))
}

func TestHandleFailureRerunsThenBlocks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.coordinator.handleTaskResolved(ctx, f.resolve(t, "a", false)))
	assert.Equal(t, 1, f.dispatcher.Reruns(f.ref("a")))
	assert.Equal(t, domain.GraphRunning, f.state(t))

	require.NoError(t, f.coordinator.handleTaskResolved(ctx, f.resolve(t, "a", false)))
	assert.Equal(t, 1, f.dispatcher.Reruns(f.ref("a")))
	assert.False(t, f.dispatcher.Released(f.ref("b")))
	assert.Equal(t, domain.GraphBlocked, f.state(t))
}

func TestHandleUnknownTaskIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	event := domain.TaskResolvedEvent{ID: "x", GraphID: f.graph.ID, TaskID: "ghost", Success: true}
	assert.NoError(t, f.coordinator.handleTaskResolved(context.Background(), event))
}

// recordingBus hands out deliveries from a fixed list and records acks.
type recordingBus struct {
	events []domain.TaskResolvedEvent
	acked  chan string
}

func (b *recordingBus) PublishTaskResolved(ctx context.Context, event domain.TaskResolvedEvent) error {
	return nil
}

func (b *recordingBus) SubscribeToResolutions(ctx context.Context) (<-chan ports.Delivery, error) {
	out := make(chan ports.Delivery, len(b.events))
	for _, e := range b.events {
		out <- ports.Delivery{Event: e, Ack: func(context.Context) error {
			b.acked <- e.ID
			return nil
		}}
	}
	close(out)
	return out, nil
}

// flakyStore fails every load of the task id "boom".
type flakyStore struct {
	*memory.Store
}

var errUnavailable = errors.New("store unavailable")

func (s flakyStore) Load(ctx context.Context, ref domain.TaskRef) (*domain.Task, error) {
	if ref.TaskID == "boom" {
		return nil, errUnavailable
	}
	return s.Store.Load(ctx, ref)
}

func TestStartAcksOnlyHandledEvents(t *testing.T) {
	bus := &recordingBus{acked: make(chan string, 4)}
	f := newFixture(t, bus)
	f.coordinator.tasks = flakyStore{f.store}

	bus.events = []domain.TaskResolvedEvent{
		{ID: "boom", GraphID: f.graph.ID, TaskID: "boom", Success: true},
		f.resolve(t, "a", true),
	}

	require.NoError(t, f.coordinator.Start(context.Background()))
	close(bus.acked)

	var acked []string
	for id := range bus.acked {
		acked = append(acked, id)
	}
	assert.Equal(t, []string{"a"}, acked)
	assert.True(t, f.dispatcher.Released(f.ref("b")))
}
