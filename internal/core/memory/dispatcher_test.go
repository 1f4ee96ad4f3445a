package memory

import (
	"context"
	"testing"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	d := NewDispatcher(q)
	ref := domain.TaskRef{GraphID: uuid.New(), TaskID: "a"}

	assert.ErrorIs(t, d.Release(ctx, ref), ports.ErrNotDefined)

	def := domain.TaskDefinition{Action: "noop", Deadline: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, d.Define(ctx, ref, def))
	require.NoError(t, d.Define(ctx, ref, def), "identical redefinition is accepted")

	other := def
	other.Action = "echo"
	assert.ErrorIs(t, d.Define(ctx, ref, other), ports.ErrDefinitionConflict)

	require.NoError(t, d.Release(ctx, ref))
	require.NoError(t, d.Release(ctx, ref))
	assert.Equal(t, 2, d.ReleaseCalls(ref))
	assert.Equal(t, 1, q.Len(), "only the first release queues the task")

	require.NoError(t, d.Rerun(ctx, ref, 1))
	require.NoError(t, d.Rerun(ctx, ref, 1))
	assert.Equal(t, 2, q.Len(), "a repeated rerun attempt is not queued again")
	assert.Equal(t, 1, d.Reruns(ref))

	require.NoError(t, d.Rerun(ctx, ref, 0))
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, d.Reruns(ref))
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan string, 2)
	for range 2 {
		go func() {
			ref, err := q.Pop(ctx)
			if err == nil {
				got <- ref
			}
		}()
	}
	require.NoError(t, q.Push(ctx, "one"))
	require.NoError(t, q.Push(ctx, "two"))

	assert.ElementsMatch(t, []string{"one", "two"}, []string{<-got, <-got})
}

func TestQueuePopHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewQueue().Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
