package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TaskRef addresses a single task record.
type TaskRef struct {
	GraphID uuid.UUID
	TaskID  string
}

func (r TaskRef) String() string {
	return r.GraphID.String() + "/" + r.TaskID
}

// ParseTaskRef is the inverse of TaskRef.String.
func ParseTaskRef(s string) (TaskRef, error) {
	graph, task, ok := strings.Cut(s, "/")
	if !ok || task == "" {
		return TaskRef{}, fmt.Errorf("malformed task ref %q", s)
	}
	graphID, err := uuid.Parse(graph)
	if err != nil {
		return TaskRef{}, fmt.Errorf("malformed task ref %q: %w", s, err)
	}
	return TaskRef{GraphID: graphID, TaskID: task}, nil
}
