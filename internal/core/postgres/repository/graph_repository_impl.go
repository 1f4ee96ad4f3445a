package repository

import (
	"context"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type graphRepository struct {
	db *gorm.DB
}

// NewGraphRepository creates a new instance of GraphRepository
func NewGraphRepository(db *gorm.DB) ports.GraphStore {
	return &graphRepository{db: db}
}

func (r *graphRepository) CreateGraph(ctx context.Context, graph *domain.TaskGraph, tasks []domain.Task) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Create the graph record
		if err := tx.Create(graph).Error; err != nil {
			return errors.Wrapf(err, "create graph %s", graph.ID)
		}

		// Create all tasks
		return createTasks(tx, tasks)
	})
}

func (r *graphRepository) GetGraph(ctx context.Context, graphID uuid.UUID) (*domain.TaskGraph, error) {
	var graph domain.TaskGraph
	err := r.db.WithContext(ctx).Where("id = ?", graphID).First(&graph).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ports.ErrGraphNotFound, "get %s", graphID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", graphID)
	}
	return &graph, nil
}

// UpdateState updates the aggregate state of a graph.
// The state check in the WHERE clause makes concurrent refreshes that agree
// on the state no-ops, so only an actual transition touches the row.
func (r *graphRepository) UpdateState(ctx context.Context, graphID uuid.UUID, state domain.GraphState) error {
	err := r.db.WithContext(ctx).
		Model(&domain.TaskGraph{}).
		Where("id = ? AND state <> ?", graphID, state).
		Update("state", state).Error
	return errors.Wrapf(err, "update state of %s", graphID)
}
