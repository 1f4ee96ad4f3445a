package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is the kind of every *Rejection.
	ErrRejected = errors.New("task graph rejected")

	ErrNotSucceeded = errors.New("task has not resolved successfully")
	ErrNotFailed    = errors.New("task has not resolved as failed")
)

type Kind string

const (
	KindSchemaViolation      Kind = "SchemaViolation"
	KindDuplicateRequirement Kind = "DuplicateRequirement"
	KindDanglingRequirement  Kind = "DanglingRequirement"
	KindDuplicateTask        Kind = "DuplicateTask"
	KindCyclicRequirement    Kind = "CyclicRequirement"
	KindDispatchFailure      Kind = "DispatchFailure"
)

// Violation pinpoints one problem in a submitted batch.
type Violation struct {
	Kind   Kind   `json:"kind"`
	TaskID string `json:"taskId,omitempty"`
	Ref    string `json:"ref,omitempty"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	switch {
	case v.TaskID != "" && v.Ref != "":
		return fmt.Sprintf("%s: task %q, %s: %s", v.Kind, v.TaskID, v.Ref, v.Detail)
	case v.TaskID != "":
		return fmt.Sprintf("%s: task %q: %s", v.Kind, v.TaskID, v.Detail)
	default:
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	}
}

// Rejection is returned instead of a result when the batch cannot be
// applied. Nothing has been persisted when a Rejection is returned.
type Rejection struct {
	Message    string
	Violations []Violation
	Input      []Node
}

func (r *Rejection) Error() string {
	if len(r.Violations) == 0 {
		return r.Message
	}
	return fmt.Sprintf("%s: %s (%d violation(s))", r.Message, r.Violations[0], len(r.Violations))
}

func (r *Rejection) Unwrap() error { return ErrRejected }

// Kind is the kind of the first violation. A rejection is produced by a single
// validation stage, so all of its violations share that stage.
func (r *Rejection) Kind() Kind {
	if len(r.Violations) == 0 {
		return KindSchemaViolation
	}
	return r.Violations[0].Kind
}

func reject(message string, violations []Violation, input []Node) *Rejection {
	return &Rejection{Message: message, Violations: violations, Input: input}
}
