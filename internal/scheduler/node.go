package scheduler

import (
	"slices"

	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
)

// Node is one submitted task descriptor.
type Node struct {
	TaskID   string                `json:"taskId" validate:"required,taskid"`
	Requires []string              `json:"requires" validate:"max=100,dive,required"`
	Reruns   int                   `json:"reruns" validate:"min=0,max=100"`
	Task     domain.TaskDefinition `json:"task"`
}

type IngestInput struct {
	GraphID     uuid.UUID
	SchedulerID string
	Nodes       []Node

	// Tasks already persisted for the graph, empty for a new graph.
	Existing []domain.Task
}

type IngestResult struct {
	// Input is the batch after routing normalisation.
	Input []Node
	// Tasks are ready to persist, in submission order.
	Tasks []domain.Task
}

// RoutingPrefix scopes routing keys by scheduler and graph.
func RoutingPrefix(schedulerID string, graphID uuid.UUID) string {
	return schedulerID + "." + graphID.String() + "."
}

// normalizeRouting copies nodes with every routing key prefixed.
func normalizeRouting(schedulerID string, graphID uuid.UUID, nodes []Node) []Node {
	prefix := RoutingPrefix(schedulerID, graphID)
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Requires = slices.Clone(n.Requires)
		n.Task.Routing = prefix + n.Task.Routing
		out[i] = n
	}
	return out
}
