package coordinator

import (
	"context"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/scheduler"
	"go-taskgraph/internal/status"

	"github.com/pkg/errors"
)

type Coordinator struct {
	tasks      ports.TaskStore
	propagator *scheduler.Propagator
	refresher  *status.Refresher
	eventBus   ports.EventBus
}

func NewCoordinator(
	tasks ports.TaskStore,
	propagator *scheduler.Propagator,
	refresher *status.Refresher,
	bus ports.EventBus,
) *Coordinator {
	return &Coordinator{
		tasks:      tasks,
		propagator: propagator,
		refresher:  refresher,
		eventBus:   bus,
	}
}

// Start consumes resolution events until ctx is done. Call this in main.go as
// a goroutine. An event is acknowledged only once it has been handled, so a
// failed handling is delivered again.
func (c *Coordinator) Start(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)

	deliveries, err := c.eventBus.SubscribeToResolutions(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to resolution events")
	}
	log.Info("Coordinator started, listening for events...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Coordinator shutting down...")
			return nil

		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.handleTaskResolved(ctx, d.Event); err != nil {
				log.Error("Failed to handle resolution, leaving it for redelivery",
					"task", d.Event.Ref().String(), "event", d.Event.ID, "error", err)
				continue
			}
			if err := d.Ack(ctx); err != nil {
				log.Error("Failed to ack resolution event", "event", d.Event.ID, "error", err)
			}
		}
	}
}

// handleTaskResolved re-reads the task and acts on the resolution on record,
// which may be newer than the event.
func (c *Coordinator) handleTaskResolved(ctx context.Context, event domain.TaskResolvedEvent) error {
	log := ctxlog.FromContext(ctx).With("task", event.Ref().String(), "event", event.ID)

	task, err := c.tasks.Load(ctx, event.Ref())
	if errors.Is(err, ports.ErrTaskNotFound) {
		log.Warn("Resolved task does not exist, ignoring event")
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case task.Succeeded():
		if err := c.propagator.PropagateSuccess(ctx, task); err != nil {
			return err
		}
	case task.IsResolved():
		if _, err := c.propagator.HandleFailure(ctx, task); err != nil {
			return err
		}
	default:
		// Already rerun by an earlier delivery.
		log.Debug("Task is no longer resolved, nothing to do")
	}

	_, err = c.refresher.Refresh(ctx, event.GraphID)
	return err
}
