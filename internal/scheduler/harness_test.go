package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go-taskgraph/internal/core/memory"
	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/core/retry"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type harness struct {
	graphID    uuid.UUID
	store      *memory.Store
	queue      *memory.Queue
	dispatcher *memory.Dispatcher
	ingester   *Ingester
	propagator *Propagator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	store := memory.NewStore(retry.Policy{MaxAttempts: 100, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond})
	queue := memory.NewQueue()
	dispatcher := memory.NewDispatcher(queue)
	return &harness{
		graphID:    uuid.New(),
		store:      store,
		queue:      queue,
		dispatcher: dispatcher,
		ingester:   NewIngester(store, dispatcher, NewSchemaValidator(), m),
		propagator: NewPropagator(store, dispatcher, m),
	}
}

var testDeadline = time.Now().Add(time.Hour).UTC().Truncate(time.Second)

func node(id string, requires ...string) Node {
	return Node{
		TaskID:   id,
		Requires: requires,
		Reruns:   1,
		Task: domain.TaskDefinition{
			Routing:  "ci",
			Action:   "noop",
			Deadline: testDeadline,
		},
	}
}

func (h *harness) ref(id string) domain.TaskRef {
	return domain.TaskRef{GraphID: h.graphID, TaskID: id}
}

func (h *harness) load(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := h.store.Load(context.Background(), h.ref(id))
	require.NoError(t, err)
	return task
}

func (h *harness) existing(t *testing.T) []domain.Task {
	t.Helper()
	tasks, err := h.store.ListByGraph(context.Background(), h.graphID)
	require.NoError(t, err)
	return tasks
}

// submit plays the caller's role: ingest, persist, settle.
func (h *harness) submit(t *testing.T, nodes ...Node) []domain.Task {
	t.Helper()
	ctx := context.Background()
	res, err := h.ingester.Ingest(ctx, IngestInput{
		GraphID:     h.graphID,
		SchedulerID: "sched",
		Nodes:       nodes,
		Existing:    h.existing(t),
	})
	require.NoError(t, err)
	require.NoError(t, h.store.Create(ctx, res.Tasks))
	require.NoError(t, h.propagator.Settle(ctx, res.Tasks))
	return res.Tasks
}

// resolve records a resolution the way the execution side does.
func (h *harness) resolve(t *testing.T, id string, success bool) *domain.Task {
	t.Helper()
	task, err := h.store.Modify(context.Background(), h.ref(id), func(task *domain.Task) error {
		task.Resolution = &domain.Resolution{Success: success, ResolvedAt: time.Now()}
		return nil
	})
	require.NoError(t, err)
	return task
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// failingStore fails every Modify of the refs in failing.
type failingStore struct {
	*memory.Store
	mu      sync.Mutex
	failing map[domain.TaskRef]bool
}

func (s *failingStore) Modify(ctx context.Context, ref domain.TaskRef, fn ports.Transform) (*domain.Task, error) {
	s.mu.Lock()
	fail := s.failing[ref]
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.Modify(ctx, ref, fn)
}

func (s *failingStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = nil
}

// racingStore lands a competing write on the record while the first
// transform of every Modify runs, so that first write attempt loses.
type racingStore struct {
	*memory.Store
}

func (s *racingStore) Modify(ctx context.Context, ref domain.TaskRef, fn ports.Transform) (*domain.Task, error) {
	raced := false
	return s.Store.Modify(ctx, ref, func(t *domain.Task) error {
		if err := fn(t); err != nil {
			return err
		}
		if raced {
			return nil
		}
		raced = true
		_, err := s.Store.Modify(ctx, ref, func(*domain.Task) error { return nil })
		return err
	})
}
