package status

import (
	"context"
	"testing"
	"time"

	"go-taskgraph/internal/core/memory"
	"go-taskgraph/internal/core/retry"
	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type taskOpt func(*domain.Task)

func requiresLeft(ids ...string) taskOpt {
	return func(t *domain.Task) { t.RequiresLeft = datatypes.JSONSlice[string](ids) }
}

func resolved(success bool, rerunsLeft int) taskOpt {
	return func(t *domain.Task) {
		t.Resolution = &domain.Resolution{Success: success, ResolvedAt: time.Now()}
		t.RerunsLeft = rerunsLeft
	}
}

func task(graphID uuid.UUID, id string, opts ...taskOpt) domain.Task {
	t := domain.NewTask(graphID, id)
	for _, opt := range opts {
		opt(t)
	}
	return *t
}

func TestAggregate(t *testing.T) {
	g := uuid.New()

	tests := []struct {
		name  string
		tasks []domain.Task
		want  Summary
	}{
		{
			name: "fresh graph",
			tasks: []domain.Task{
				task(g, "a"),
				task(g, "b", requiresLeft("a")),
			},
			want: Summary{State: domain.GraphRunning, Total: 2, Ready: 1, Pending: 1},
		},
		{
			name: "all succeeded",
			tasks: []domain.Task{
				task(g, "a", resolved(true, 0)),
				task(g, "b", resolved(true, 2)),
			},
			want: Summary{State: domain.GraphFinished, Total: 2, Succeeded: 2},
		},
		{
			name: "terminal failure blocks dependents",
			tasks: []domain.Task{
				task(g, "a", resolved(false, 0)),
				task(g, "b", requiresLeft("a")),
			},
			want: Summary{State: domain.GraphBlocked, Total: 2, Failed: 1, Pending: 1},
		},
		{
			name: "failure awaiting rerun is still running",
			tasks: []domain.Task{
				task(g, "a", resolved(false, 1)),
				task(g, "b", requiresLeft("a")),
			},
			want: Summary{State: domain.GraphRunning, Total: 2, Ready: 1, Pending: 1},
		},
		{
			name: "terminal failure without dependents finishes",
			tasks: []domain.Task{
				task(g, "a", resolved(true, 0)),
				task(g, "b", resolved(false, 0)),
			},
			want: Summary{State: domain.GraphFinished, Total: 2, Succeeded: 1, Failed: 1},
		},
		{
			name: "independent branch keeps running",
			tasks: []domain.Task{
				task(g, "a", resolved(false, 0)),
				task(g, "b", requiresLeft("a")),
				task(g, "c"),
			},
			want: Summary{State: domain.GraphRunning, Total: 3, Failed: 1, Pending: 1, Ready: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.tasks))
		})
	}
}

func TestRefresherPersistsState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(retry.DefaultPolicy())
	graph := domain.NewTaskGraph(uuid.New(), "sched")
	require.NoError(t, store.CreateGraph(ctx, graph, []domain.Task{
		task(graph.ID, "a", resolved(false, 0)),
		task(graph.ID, "b", requiresLeft("a")),
	}))

	summary, err := NewRefresher(store, store).Refresh(ctx, graph.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GraphBlocked, summary.State)

	stored, err := store.GetGraph(ctx, graph.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GraphBlocked, stored.State)
}
