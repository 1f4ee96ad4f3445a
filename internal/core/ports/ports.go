package ports

import (
	"context"
	"errors"

	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrGraphNotFound = errors.New("task graph not found")
	ErrTaskExists    = errors.New("task already exists")

	// ErrConflictExhausted is returned by Modify when every attempt lost the
	// optimistic race. Callers treat it as fatal.
	ErrConflictExhausted = errors.New("optimistic update retries exhausted")

	// ErrNoChange may be returned by a Transform to skip the write.
	ErrNoChange = errors.New("no change")

	ErrDefinitionConflict = errors.New("task already defined with a different definition")
	ErrNotDefined         = errors.New("task is not defined")
)

// Transform mutates a freshly loaded task record. It may run several times
// for one Modify call, once per attempt, always against a fresh copy.
type Transform func(task *domain.Task) error

// TaskStore represents the task record operations
type TaskStore interface {
	// Load a single task record
	Load(ctx context.Context, ref domain.TaskRef) (*domain.Task, error)

	// Modify runs load -> transform -> conditional write, retrying the whole
	// cycle when the version moved underneath it
	Modify(ctx context.Context, ref domain.TaskRef, fn Transform) (*domain.Task, error)

	// Create inserts all tasks or none. Existing keys yield ErrTaskExists
	Create(ctx context.Context, tasks []domain.Task) error

	// Every task of a graph, ordered by task id
	ListByGraph(ctx context.Context, graphID uuid.UUID) ([]domain.Task, error)
}

// GraphStore represents the task graph operations
type GraphStore interface {
	// Create the graph record and its first batch of tasks in one transaction
	CreateGraph(ctx context.Context, graph *domain.TaskGraph, tasks []domain.Task) error

	GetGraph(ctx context.Context, graphID uuid.UUID) (*domain.TaskGraph, error)

	// Update the aggregate state
	UpdateState(ctx context.Context, graphID uuid.UUID, state domain.GraphState) error
}

// Dispatcher is the external work dispatcher. Release and Rerun must be safe
// to call more than once.
type Dispatcher interface {
	// Register a unit of work. Redefining with an identical definition is a no-op
	Define(ctx context.Context, ref domain.TaskRef, def domain.TaskDefinition) error

	// Make a defined task eligible for execution. Repeated calls have no effect
	Release(ctx context.Context, ref domain.TaskRef) error

	// Queue an already released task for another execution. attempt names the
	// rerun (the reruns left after spending it); repeating an attempt has no
	// effect
	Rerun(ctx context.Context, ref domain.TaskRef, attempt int) error
}

// TaskQueue represents the task queue operations
type TaskQueue interface {
	// Push a task ref to the "To-Do" list
	Push(ctx context.Context, ref string) error

	// Wait (Block) until a task ref is available
	Pop(ctx context.Context) (string, error)
}

// Delivery is one resolution event handed to a subscriber. Events that are
// not acknowledged are delivered again.
type Delivery struct {
	Event domain.TaskResolvedEvent
	Ack   func(ctx context.Context) error
}

// EventBus represents the event bus operations
type EventBus interface {
	// Publish "task X resolved"
	PublishTaskResolved(ctx context.Context, event domain.TaskResolvedEvent) error

	// Subscribe to resolution events (Used by Coordinator)
	SubscribeToResolutions(ctx context.Context) (<-chan Delivery, error)
}
