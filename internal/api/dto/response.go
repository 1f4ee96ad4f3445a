package dto

import (
	"time"

	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/scheduler"
	"go-taskgraph/internal/status"

	"github.com/google/uuid"
)

type TaskGraphResponse struct {
	TaskGraphID uuid.UUID      `json:"taskGraphId"`
	Status      status.Summary `json:"status"`
}

// RejectionResponse echoes the normalized input next to every violation.
type RejectionResponse struct {
	Message string                `json:"message"`
	Errors  []scheduler.Violation `json:"errors"`
	Input   []scheduler.Node      `json:"input,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// Set when the graph was stored before the failure.
	TaskGraphID string `json:"taskGraphId,omitempty"`
}

type GraphInfo struct {
	TaskGraphID uuid.UUID         `json:"taskGraphId"`
	SchedulerID string            `json:"schedulerId"`
	Metadata    Metadata          `json:"metadata"`
	Tags        map[string]any    `json:"tags"`
	State       domain.GraphState `json:"state"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type TaskInfo struct {
	TaskID        string                `json:"taskId"`
	Requires      []string              `json:"requires"`
	RequiresLeft  []string              `json:"requiresLeft"`
	Dependents    []string              `json:"dependents"`
	RerunsAllowed int                   `json:"rerunsAllowed"`
	RerunsLeft    int                   `json:"rerunsLeft"`
	Released      bool                  `json:"released"`
	Resolution    *domain.Resolution    `json:"resolution"`
	Task          domain.TaskDefinition `json:"task"`
	Version       int                   `json:"version"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

type InspectResponse struct {
	Graph  GraphInfo      `json:"graph"`
	Status status.Summary `json:"status"`
	Tasks  []TaskInfo     `json:"tasks"`
}

func NewGraphInfo(g *domain.TaskGraph) GraphInfo {
	return GraphInfo{
		TaskGraphID: g.ID,
		SchedulerID: g.SchedulerID,
		Metadata: Metadata{
			Name:        g.Name,
			Description: g.Description,
			Owner:       g.Owner,
			Source:      g.Source,
		},
		Tags:      g.Tags,
		State:     g.State,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func NewTaskInfo(t *domain.Task) TaskInfo {
	return TaskInfo{
		TaskID:        t.TaskID,
		Requires:      t.Requires,
		RequiresLeft:  t.RequiresLeft,
		Dependents:    t.Dependents,
		RerunsAllowed: t.RerunsAllowed,
		RerunsLeft:    t.RerunsLeft,
		Released:      t.Released,
		Resolution:    t.Resolution,
		Task:          t.Definition.Data(),
		Version:       t.Version,
		UpdatedAt:     t.UpdatedAt,
	}
}
