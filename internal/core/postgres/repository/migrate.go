package repository

import (
	"go-taskgraph/internal/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Migrate creates or updates the task_graphs and tasks tables.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&domain.TaskGraph{}, &domain.Task{}), "migrate")
}
