package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type GraphState string

const (
	GraphRunning  GraphState = "running"
	GraphBlocked  GraphState = "blocked"
	GraphFinished GraphState = "finished"
)

// TaskGraph holds the graph-level metadata. Tasks are stored as independent
// records keyed by (GraphID, TaskID) and are never loaded through this type.
type TaskGraph struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SchedulerID string    `gorm:"type:varchar(64);index;not null"`

	// Metadata, opaque to the engine
	Name        string `gorm:"type:varchar(255);not null"`
	Description string `gorm:"type:text"`
	Owner       string `gorm:"type:varchar(255)"`
	Source      string `gorm:"type:varchar(1024)"`
	Tags        datatypes.JSONMap

	// Derived from the task records by the status aggregator
	State GraphState `gorm:"type:varchar(20);default:'running'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// --- FACTORY ---
func NewTaskGraph(id uuid.UUID, schedulerID string) *TaskGraph {
	return &TaskGraph{
		ID:          id,
		SchedulerID: schedulerID,
		Tags:        datatypes.JSONMap{},
		State:       GraphRunning,
		CreatedAt:   time.Now(),
	}
}

// --- METHODS ---
func (g *TaskGraph) IsFinished() bool {
	return g.State == GraphFinished
}
