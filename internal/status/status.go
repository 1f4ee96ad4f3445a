// Package status derives a graph's aggregate state from its task records.
package status

import (
	"context"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Summary struct {
	State     domain.GraphState `json:"state"`
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	// Unresolved tasks still waiting on prerequisites
	Pending int `json:"pending"`
	// Unresolved tasks with nothing left to wait on
	Ready int `json:"ready"`
}

// Aggregate computes the state of a graph from all of its tasks. A graph is
// finished once every task resolved terminally, running while some
// unresolved task can execute, and blocked otherwise. Failures that will be
// rerun count as ready.
func Aggregate(tasks []domain.Task) Summary {
	s := Summary{Total: len(tasks)}
	for i := range tasks {
		t := &tasks[i]
		switch {
		case t.Succeeded():
			s.Succeeded++
		case t.FailedTerminally():
			s.Failed++
		case t.Ready():
			s.Ready++
		default:
			s.Pending++
		}
	}

	switch {
	case s.Ready > 0:
		s.State = domain.GraphRunning
	case s.Pending > 0:
		s.State = domain.GraphBlocked
	default:
		s.State = domain.GraphFinished
	}
	return s
}

// Refresher recomputes and stores the aggregate state of a graph.
type Refresher struct {
	tasks  ports.TaskStore
	graphs ports.GraphStore
}

func NewRefresher(tasks ports.TaskStore, graphs ports.GraphStore) *Refresher {
	return &Refresher{tasks: tasks, graphs: graphs}
}

func (r *Refresher) Refresh(ctx context.Context, graphID uuid.UUID) (Summary, error) {
	tasks, err := r.tasks.ListByGraph(ctx, graphID)
	if err != nil {
		return Summary{}, errors.Wrapf(err, "refresh %s", graphID)
	}
	s := Aggregate(tasks)
	if err := r.graphs.UpdateState(ctx, graphID, s.State); err != nil {
		return Summary{}, errors.Wrapf(err, "refresh %s", graphID)
	}
	ctxlog.FromContext(ctx).Debug("Graph state refreshed",
		"graph", graphID, "state", s.State, "ready", s.Ready, "pending", s.Pending)
	return s, nil
}
