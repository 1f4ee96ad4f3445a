package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/metrics"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// popRetryDelay is the pause after the queue failed to answer.
const popRetryDelay = time.Second

type Worker struct {
	workerID string
	queue    ports.TaskQueue
	tasks    ports.TaskStore
	eventBus ports.EventBus
	registry TaskRegistry
	metrics  *metrics.Metrics
}

func NewWorker(q ports.TaskQueue, tasks ports.TaskStore, bus ports.EventBus, reg TaskRegistry, m *metrics.Metrics) *Worker {
	return &Worker{
		workerID: uuid.New().String(),
		queue:    q,
		tasks:    tasks,
		eventBus: bus,
		registry: reg,
		metrics:  m,
	}
}

// ProcessNextTask handles exactly ONE task lifecycle: pop, execute, record
// the resolution and announce it.
func (w *Worker) ProcessNextTask(ctx context.Context) error {
	// 1. POP: Wait until a task is available
	raw, err := w.queue.Pop(ctx)
	if err != nil {
		return errors.Wrap(err, "pop task")
	}
	log := ctxlog.FromContext(ctx).With("worker", w.workerID, "task", raw)

	// 2. FETCH: Get the task record
	ref, err := domain.ParseTaskRef(raw)
	if err != nil {
		log.Error("Dropping malformed task ref", "error", err)
		return nil
	}
	task, err := w.tasks.Load(ctx, ref)
	if errors.Is(err, ports.ErrTaskNotFound) {
		log.Warn("Released task has no record, dropping it")
		return nil
	}
	if err != nil {
		return err
	}

	// A duplicate queue entry: announce the resolution again in case the
	// first announcement was lost.
	if task.IsResolved() {
		w.metrics.TasksExecuted.WithLabelValues("skipped").Inc()
		log.Debug("Task already resolved, re-announcing")
		return w.publish(ctx, task)
	}

	// 3. EXECUTE: Find the right function and run it
	resolution := w.execute(ctx, task)

	// 4. RECORD: Store the resolution unless another worker beat us to it
	recorded, err := w.tasks.Modify(ctx, ref, func(t *domain.Task) error {
		if t.IsResolved() {
			return ports.ErrNoChange
		}
		t.Resolution = resolution
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "record resolution of %s", ref)
	}

	result := "success"
	if !resolution.Success {
		result = "failure"
	}
	w.metrics.TasksExecuted.WithLabelValues(result).Inc()
	log.Info("Task executed", "success", resolution.Success, "reason", resolution.Reason)

	// 5. ANNOUNCE
	return w.publish(ctx, recorded)
}

func (w *Worker) execute(ctx context.Context, task *domain.Task) *domain.Resolution {
	def := task.Definition.Data()
	fail := func(reason string) *domain.Resolution {
		return &domain.Resolution{Success: false, Reason: reason, ResolvedAt: time.Now()}
	}

	handler, exists := w.registry[def.Action]
	if !exists {
		return fail("unknown action: " + def.Action)
	}

	runCtx := ctx
	if !def.Deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, def.Deadline)
		defer cancel()
	}
	if runCtx.Err() != nil {
		return fail("deadline exceeded before start")
	}

	input, err := json.Marshal(def.Payload)
	if err != nil {
		return fail("encode payload: " + err.Error())
	}
	output, err := handler(runCtx, input)
	if err != nil {
		return fail(err.Error())
	}
	if len(output) > 0 && !json.Valid(output) {
		output, _ = json.Marshal(string(output))
	}
	return &domain.Resolution{Success: true, ResolvedAt: time.Now(), Output: output}
}

func (w *Worker) publish(ctx context.Context, task *domain.Task) error {
	event := domain.TaskResolvedEvent{
		ID:      ulid.Make().String(),
		GraphID: task.GraphID,
		TaskID:  task.TaskID,
	}
	if task.Resolution != nil {
		event.Success = task.Resolution.Success
		event.Reason = task.Resolution.Reason
	}
	return errors.Wrapf(w.eventBus.PublishTaskResolved(ctx, event), "publish resolution of %s", task.Ref())
}

// StartPool runs concurrency worker loops and blocks until ctx is done and
// every loop has returned.
func (w *Worker) StartPool(ctx context.Context, concurrency int) {
	log := ctxlog.FromContext(ctx).With("worker", w.workerID)
	log.Info("Starting worker pool", "concurrency", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			for ctx.Err() == nil {
				err := w.ProcessNextTask(ctx)
				if err == nil || ctx.Err() != nil {
					continue
				}
				log.Error("Worker loop error", "thread", threadID, "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(popRetryDelay):
				}
			}
		}(i)
	}
	wg.Wait()
	log.Info("Worker pool stopped")
}
