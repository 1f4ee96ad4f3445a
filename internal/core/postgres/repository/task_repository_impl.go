package repository

import (
	"context"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/core/retry"
	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Columns a Modify transform is allowed to change. Requires, the definition
// and the deadline are fixed at creation.
var mutableTaskColumns = []string{
	"requires_left",
	"dependents",
	"reruns_left",
	"resolution",
	"released",
	"version",
	"updated_at",
}

type taskRepository struct {
	db     *gorm.DB
	policy retry.Policy
}

// NewTaskRepository creates a new instance of TaskRepository
func NewTaskRepository(db *gorm.DB, policy retry.Policy) ports.TaskStore {
	return &taskRepository{db: db, policy: policy}
}

func (r *taskRepository) Load(ctx context.Context, ref domain.TaskRef) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Where("graph_id = ? AND task_id = ?", ref.GraphID, ref.TaskID).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(ports.ErrTaskNotFound, "load %s", ref)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", ref)
	}
	return &task, nil
}

// Modify is the optimistic read-modify-write cycle:
// "UPDATE tasks SET ... WHERE graph_id=? AND task_id=? AND version=?"
// Zero rows affected means another writer won, so the cycle starts over with
// a fresh read.
func (r *taskRepository) Modify(ctx context.Context, ref domain.TaskRef, fn ports.Transform) (*domain.Task, error) {
	var result *domain.Task
	err := r.policy.Do(ctx, func() (bool, error) {
		task, err := r.Load(ctx, ref)
		if err != nil {
			return false, err
		}

		currentVersion := task.Version
		if err := fn(task); err != nil {
			if errors.Is(err, ports.ErrNoChange) {
				result, err = r.Load(ctx, ref)
				return err == nil, err
			}
			return false, err
		}
		task.Version = currentVersion + 1

		res := r.db.WithContext(ctx).
			Model(task).
			Where("version = ?", currentVersion).
			Select(mutableTaskColumns).
			Updates(task)
		if res.Error != nil {
			return false, errors.Wrapf(res.Error, "modify %s", ref)
		}
		if res.RowsAffected == 0 {
			return false, nil
		}
		result = task
		return true, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return nil, errors.Wrapf(ports.ErrConflictExhausted, "modify %s", ref)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *taskRepository) Create(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createTasks(tx, tasks)
	})
}

func (r *taskRepository) ListByGraph(ctx context.Context, graphID uuid.UUID) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("graph_id = ?", graphID).
		Order("task_id").
		Find(&tasks).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list tasks of %s", graphID)
	}
	return tasks, nil
}

func createTasks(tx *gorm.DB, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	err := tx.Create(&tasks).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrap(ports.ErrTaskExists, "create tasks")
	}
	return errors.Wrap(err, "create tasks")
}
