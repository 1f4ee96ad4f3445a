package domain

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TaskDefinition is what the work dispatcher needs to run a task.
type TaskDefinition struct {
	Routing     string         `json:"routing" validate:"max=128"`
	Action      string         `json:"action" validate:"required,max=64"`
	Name        string         `json:"name,omitempty" validate:"max=255"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Deadline    time.Time      `json:"deadline" validate:"required"`
}

// Resolution records how a task finished. A nil resolution means the task
// has not finished yet.
type Resolution struct {
	Success    bool            `json:"success"`
	Reason     string          `json:"reason,omitempty"`
	ResolvedAt time.Time       `json:"resolvedAt"`
	Output     json.RawMessage `json:"output,omitempty"`
}

type Task struct {
	GraphID uuid.UUID `gorm:"type:uuid;primaryKey"`
	TaskID  string    `gorm:"type:varchar(64);primaryKey"`

	// Dependency edges. Requires is immutable, RequiresLeft only shrinks and
	// Dependents only grows.
	Requires     datatypes.JSONSlice[string]
	RequiresLeft datatypes.JSONSlice[string]
	Dependents   datatypes.JSONSlice[string]

	RerunsAllowed int `gorm:"default:0"`
	RerunsLeft    int `gorm:"default:0"`

	Resolution *Resolution `gorm:"serializer:json"`
	Released   bool        `gorm:"default:false"`

	Definition datatypes.JSONType[TaskDefinition]
	Deadline   time.Time

	Version int `gorm:"default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewTask(graphID uuid.UUID, taskID string) *Task {
	return &Task{
		GraphID:      graphID,
		TaskID:       taskID,
		Requires:     datatypes.JSONSlice[string]{},
		RequiresLeft: datatypes.JSONSlice[string]{},
		Dependents:   datatypes.JSONSlice[string]{},
		Version:      1,
		CreatedAt:    time.Now(),
	}
}

func (t *Task) Ref() TaskRef {
	return TaskRef{GraphID: t.GraphID, TaskID: t.TaskID}
}

func (t *Task) IsResolved() bool {
	return t.Resolution != nil
}

func (t *Task) Succeeded() bool {
	return t.Resolution != nil && t.Resolution.Success
}

// FailedTerminally reports a failed resolution with no reruns left to spend.
func (t *Task) FailedTerminally() bool {
	return t.Resolution != nil && !t.Resolution.Success && t.RerunsLeft <= 0
}

// Ready reports whether every prerequisite has resolved successfully.
func (t *Task) Ready() bool {
	return len(t.RequiresLeft) == 0
}

func (t *Task) canRerun() bool {
	return t.RerunsLeft > 0
}

// RemoveRequirement drops taskID from RequiresLeft. It returns false when the
// requirement was already gone, which callers treat as a no-op.
func (t *Task) RemoveRequirement(taskID string) bool {
	i := slices.Index(t.RequiresLeft, taskID)
	if i < 0 {
		return false
	}
	t.RequiresLeft = slices.Delete(slices.Clone(t.RequiresLeft), i, i+1)
	return true
}

// AddDependents appends the ids that are not already dependents and returns
// the ones it added.
func (t *Task) AddDependents(taskIDs ...string) []string {
	var added []string
	for _, id := range taskIDs {
		if slices.Contains(t.Dependents, id) || slices.Contains(added, id) {
			continue
		}
		added = append(added, id)
	}
	if len(added) > 0 {
		t.Dependents = append(slices.Clone(t.Dependents), added...)
	}
	return added
}

// Rerun spends one rerun and clears a failed resolution so the task can be
// executed again. It returns false when nothing was changed.
func (t *Task) Rerun() bool {
	if t.Resolution == nil || t.Resolution.Success || !t.canRerun() {
		return false
	}
	t.RerunsLeft--
	t.Resolution = nil
	return true
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	c.Requires = slices.Clone(t.Requires)
	c.RequiresLeft = slices.Clone(t.RequiresLeft)
	c.Dependents = slices.Clone(t.Dependents)
	if t.Resolution != nil {
		r := *t.Resolution
		r.Output = slices.Clone(t.Resolution.Output)
		c.Resolution = &r
	}
	return c
}
