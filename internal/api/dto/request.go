package dto

import (
	"go-taskgraph/internal/scheduler"
)

// Metadata is opaque to the engine.
type Metadata struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
	Owner       string `json:"owner" binding:"max=255"`
	Source      string `json:"source" binding:"max=1024"`
}

// CreateTaskGraphRequest creates a graph from its first batch of tasks. The
// tasks are validated by the ingestion, not by request binding, so that every
// violation is reported together.
type CreateTaskGraphRequest struct {
	Metadata Metadata         `json:"metadata" binding:"required"`
	Tags     map[string]any   `json:"tags"`
	Tasks    []scheduler.Node `json:"tasks"`
}

type ExtendTaskGraphRequest struct {
	Tasks []scheduler.Node `json:"tasks"`
}
