package scheduler

import (
	"testing"

	"go-taskgraph/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestFindCycle(t *testing.T) {
	graphID := uuid.New()
	existing := func(id string, requires ...string) domain.Task {
		task := domain.NewTask(graphID, id)
		task.Requires = datatypes.JSONSlice[string](requires)
		return *task
	}

	tests := []struct {
		name     string
		nodes    []Node
		existing []domain.Task
		want     []string
	}{
		{
			name:  "diamond",
			nodes: []Node{node("a"), node("b", "a"), node("c", "a"), node("d", "b", "c")},
		},
		{
			name:  "two cycle",
			nodes: []Node{node("a", "b"), node("b", "a")},
			want:  []string{"a", "b", "a"},
		},
		{
			name:  "cycle behind an acyclic prefix",
			nodes: []Node{node("a", "b"), node("b", "c"), node("c", "d"), node("d", "c")},
			want:  []string{"c", "d", "c"},
		},
		{
			name:     "edges into existing tasks",
			nodes:    []Node{node("c", "b"), node("d", "a", "c")},
			existing: []domain.Task{existing("a"), existing("b", "a")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findCycle(tt.nodes, tt.existing)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("findCycle() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateBatchAcceptsRequirementsOnExistingTasks(t *testing.T) {
	graphID := uuid.New()
	a := domain.NewTask(graphID, "a")

	violations := validateBatch([]Node{node("b", "a"), node("c", "a", "b")}, []domain.Task{*a})
	assert.Empty(t, violations)
}

func TestViolationString(t *testing.T) {
	v := Violation{Kind: KindDanglingRequirement, TaskID: "b", Ref: "ghost", Detail: "missing"}
	assert.Contains(t, v.String(), "DanglingRequirement")
	assert.Contains(t, v.String(), "b")
}
