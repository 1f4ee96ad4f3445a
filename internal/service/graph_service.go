package service

import (
	"context"
	"fmt"

	"go-taskgraph/internal/api/dto"
	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/scheduler"
	"go-taskgraph/internal/status"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
)

type GraphService interface {
	CreateGraph(ctx context.Context, req dto.CreateTaskGraphRequest) (uuid.UUID, status.Summary, error)
	ExtendGraph(ctx context.Context, graphID uuid.UUID, req dto.ExtendTaskGraphRequest) (status.Summary, error)
	Status(ctx context.Context, graphID uuid.UUID) (status.Summary, error)
	Inspect(ctx context.Context, graphID uuid.UUID) (*domain.TaskGraph, []domain.Task, error)
	Task(ctx context.Context, ref domain.TaskRef) (*domain.Task, error)
	Settle(ctx context.Context, graphID uuid.UUID) (status.Summary, error)
}

// UnsettledError reports a graph whose tasks were stored but not all
// released. Settle on the same graph finishes the job.
type UnsettledError struct {
	GraphID uuid.UUID
	Err     error
}

func (e *UnsettledError) Error() string {
	return fmt.Sprintf("task graph %s stored but not settled: %v", e.GraphID, e.Err)
}

func (e *UnsettledError) Unwrap() error { return e.Err }

// The Implementation
type graphService struct {
	schedulerID string
	tasks       ports.TaskStore
	graphs      ports.GraphStore
	ingester    *scheduler.Ingester
	propagator  *scheduler.Propagator
	refresher   *status.Refresher
}

// Constructor
func NewGraphService(
	schedulerID string,
	tasks ports.TaskStore,
	graphs ports.GraphStore,
	ingester *scheduler.Ingester,
	propagator *scheduler.Propagator,
	refresher *status.Refresher,
) GraphService {
	return &graphService{
		schedulerID: schedulerID,
		tasks:       tasks,
		graphs:      graphs,
		ingester:    ingester,
		propagator:  propagator,
		refresher:   refresher,
	}
}

func (s *graphService) CreateGraph(ctx context.Context, req dto.CreateTaskGraphRequest) (uuid.UUID, status.Summary, error) {
	// 1. Allocate the graph
	graphID := uuid.New()

	// 2. Validate, normalize and dispatch the batch
	res, err := s.ingester.Ingest(ctx, scheduler.IngestInput{
		GraphID:     graphID,
		SchedulerID: s.schedulerID,
		Nodes:       req.Tasks,
	})
	if err != nil {
		return uuid.Nil, status.Summary{}, err
	}

	// 3. TRANSACTION: Save graph + tasks together
	graph := domain.NewTaskGraph(graphID, s.schedulerID)
	graph.Name = req.Metadata.Name
	graph.Description = req.Metadata.Description
	graph.Owner = req.Metadata.Owner
	graph.Source = req.Metadata.Source
	if req.Tags != nil {
		graph.Tags = datatypes.JSONMap(req.Tags)
	}
	if err := s.graphs.CreateGraph(ctx, graph, res.Tasks); err != nil {
		return uuid.Nil, status.Summary{}, errors.Wrap(err, "create task graph")
	}

	// 4. Release the root tasks. From here on the graph exists, so the
	// caller gets its id even on failure.
	summary, err := s.settle(ctx, graphID, res.Tasks)
	if err != nil {
		return graphID, status.Summary{}, &UnsettledError{GraphID: graphID, Err: err}
	}
	ctxlog.FromContext(ctx).Info("Task graph created", "graph", graphID, "tasks", len(res.Tasks), "state", summary.State)
	return graphID, summary, nil
}

func (s *graphService) ExtendGraph(ctx context.Context, graphID uuid.UUID, req dto.ExtendTaskGraphRequest) (status.Summary, error) {
	graph, err := s.graphs.GetGraph(ctx, graphID)
	if err != nil {
		return status.Summary{}, err
	}
	existing, err := s.tasks.ListByGraph(ctx, graphID)
	if err != nil {
		return status.Summary{}, err
	}

	res, err := s.ingester.Ingest(ctx, scheduler.IngestInput{
		GraphID:     graphID,
		SchedulerID: graph.SchedulerID,
		Nodes:       req.Tasks,
		Existing:    existing,
	})
	if err != nil {
		return status.Summary{}, err
	}

	if err := s.tasks.Create(ctx, res.Tasks); err != nil {
		return status.Summary{}, errors.Wrap(err, "extend task graph")
	}

	summary, err := s.settle(ctx, graphID, res.Tasks)
	if err != nil {
		return status.Summary{}, &UnsettledError{GraphID: graphID, Err: err}
	}
	ctxlog.FromContext(ctx).Info("Task graph extended", "graph", graphID, "tasks", len(res.Tasks), "state", summary.State)
	return summary, nil
}

// Settle re-checks every task of the graph. Requirements on tasks that
// succeeded are dropped and ready tasks with no recorded release are
// released. Repeating it changes nothing.
func (s *graphService) Settle(ctx context.Context, graphID uuid.UUID) (status.Summary, error) {
	if _, err := s.graphs.GetGraph(ctx, graphID); err != nil {
		return status.Summary{}, err
	}
	tasks, err := s.tasks.ListByGraph(ctx, graphID)
	if err != nil {
		return status.Summary{}, err
	}
	summary, err := s.settle(ctx, graphID, tasks)
	if err != nil {
		return status.Summary{}, errors.Wrapf(err, "settle task graph %s", graphID)
	}
	ctxlog.FromContext(ctx).Info("Task graph settled", "graph", graphID, "state", summary.State)
	return summary, nil
}

func (s *graphService) settle(ctx context.Context, graphID uuid.UUID, tasks []domain.Task) (status.Summary, error) {
	if err := s.propagator.Settle(ctx, tasks); err != nil {
		return status.Summary{}, err
	}
	return s.refresher.Refresh(ctx, graphID)
}

func (s *graphService) Status(ctx context.Context, graphID uuid.UUID) (status.Summary, error) {
	if _, err := s.graphs.GetGraph(ctx, graphID); err != nil {
		return status.Summary{}, err
	}
	tasks, err := s.tasks.ListByGraph(ctx, graphID)
	if err != nil {
		return status.Summary{}, err
	}
	return status.Aggregate(tasks), nil
}

func (s *graphService) Inspect(ctx context.Context, graphID uuid.UUID) (*domain.TaskGraph, []domain.Task, error) {
	graph, err := s.graphs.GetGraph(ctx, graphID)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.tasks.ListByGraph(ctx, graphID)
	if err != nil {
		return nil, nil, err
	}
	return graph, tasks, nil
}

func (s *graphService) Task(ctx context.Context, ref domain.TaskRef) (*domain.Task, error) {
	return s.tasks.Load(ctx, ref)
}
