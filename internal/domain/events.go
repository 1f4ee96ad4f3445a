package domain

import (
	"github.com/google/uuid"
)

// TaskResolvedEvent is published by whoever records a task's resolution. The
// coordinator re-reads the task record, so the event is only a notification.
type TaskResolvedEvent struct {
	ID      string    `json:"id"` // ulid, for log correlation
	GraphID uuid.UUID `json:"graph_id"`
	TaskID  string    `json:"task_id"`
	Success bool      `json:"success"`
	Reason  string    `json:"reason,omitempty"`
}

func (e TaskResolvedEvent) Ref() TaskRef {
	return TaskRef{GraphID: e.GraphID, TaskID: e.TaskID}
}
