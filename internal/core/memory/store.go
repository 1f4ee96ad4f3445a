package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/core/retry"
	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store implements ports.TaskStore and ports.GraphStore. Records are copied on
// the way in and out so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	policy retry.Policy
	tasks  map[domain.TaskRef]domain.Task
	graphs map[uuid.UUID]domain.TaskGraph
}

func NewStore(policy retry.Policy) *Store {
	return &Store{
		policy: policy,
		tasks:  make(map[domain.TaskRef]domain.Task),
		graphs: make(map[uuid.UUID]domain.TaskGraph),
	}
}

func (s *Store) Load(ctx context.Context, ref domain.TaskRef) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[ref]
	if !ok {
		return nil, errors.Wrapf(ports.ErrTaskNotFound, "load %s", ref)
	}
	c := task.Clone()
	return &c, nil
}

func (s *Store) Modify(ctx context.Context, ref domain.TaskRef, fn ports.Transform) (*domain.Task, error) {
	var result domain.Task
	err := s.policy.Do(ctx, func() (bool, error) {
		s.mu.RLock()
		current, ok := s.tasks[ref]
		s.mu.RUnlock()
		if !ok {
			return false, errors.Wrapf(ports.ErrTaskNotFound, "modify %s", ref)
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			if errors.Is(err, ports.ErrNoChange) {
				result = current.Clone()
				return true, nil
			}
			return false, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.tasks[ref].Version != current.Version {
			return false, nil
		}
		s.tasks[ref] = next.Clone()
		result = next
		return true, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, errors.Wrapf(ports.ErrConflictExhausted, "modify %s", ref)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) Create(ctx context.Context, tasks []domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(tasks)
}

func (s *Store) insertLocked(tasks []domain.Task) error {
	seen := make(map[domain.TaskRef]bool, len(tasks))
	for i := range tasks {
		ref := tasks[i].Ref()
		if _, exists := s.tasks[ref]; exists || seen[ref] {
			return errors.Wrapf(ports.ErrTaskExists, "create %s", ref)
		}
		seen[ref] = true
	}
	now := time.Now()
	for _, t := range tasks {
		c := t.Clone()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		s.tasks[c.Ref()] = c
	}
	return nil
}

func (s *Store) ListByGraph(ctx context.Context, graphID uuid.UUID) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []domain.Task
	for ref, t := range s.tasks {
		if ref.GraphID == graphID {
			tasks = append(tasks, t.Clone())
		}
	}
	slices.SortFunc(tasks, func(a, b domain.Task) int {
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return tasks, nil
}

func (s *Store) CreateGraph(ctx context.Context, graph *domain.TaskGraph, tasks []domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.graphs[graph.ID]; exists {
		return errors.Errorf("task graph %s already exists", graph.ID)
	}
	if err := s.insertLocked(tasks); err != nil {
		return err
	}
	s.graphs[graph.ID] = *graph
	return nil
}

func (s *Store) GetGraph(ctx context.Context, graphID uuid.UUID) (*domain.TaskGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	graph, ok := s.graphs[graphID]
	if !ok {
		return nil, errors.Wrapf(ports.ErrGraphNotFound, "get %s", graphID)
	}
	return &graph, nil
}

func (s *Store) UpdateState(ctx context.Context, graphID uuid.UUID, state domain.GraphState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	graph, ok := s.graphs[graphID]
	if !ok || graph.State == state {
		return nil
	}
	graph.State = state
	graph.UpdatedAt = time.Now()
	s.graphs[graphID] = graph
	return nil
}
