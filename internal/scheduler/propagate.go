package scheduler

import (
	"context"
	"time"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/metrics"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Propagator struct {
	store      ports.TaskStore
	dispatcher ports.Dispatcher
	metrics    *metrics.Metrics
}

func NewPropagator(store ports.TaskStore, dispatcher ports.Dispatcher, m *metrics.Metrics) *Propagator {
	return &Propagator{store: store, dispatcher: dispatcher, metrics: m}
}

// PropagateSuccess removes resolved from the requiresLeft set of each of its
// dependents and releases the dependents left with no requirements.
//
// Each dependent is updated in its own optimistic transaction and all of them
// are attempted; the first fatal error is returned. Calling it again for the
// same resolution is a no-op, which makes redelivery after a partial failure
// safe.
func (p *Propagator) PropagateSuccess(ctx context.Context, resolved *domain.Task) error {
	if !resolved.Succeeded() {
		return errors.Wrapf(ErrNotSucceeded, "propagate %s", resolved.Ref())
	}
	start := time.Now()
	defer func() { p.metrics.PropagationSeconds.Observe(time.Since(start).Seconds()) }()

	var g errgroup.Group
	for _, dependentID := range resolved.Dependents {
		ref := domain.TaskRef{GraphID: resolved.GraphID, TaskID: dependentID}
		g.Go(func() error {
			return p.resolveRequirement(ctx, ref, resolved.TaskID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.metrics.Propagations.Inc()
	ctxlog.FromContext(ctx).Debug("Resolution propagated",
		"task", resolved.Ref().String(), "dependents", len(resolved.Dependents))
	return nil
}

// resolveRequirement is one dependent's transaction.
func (p *Propagator) resolveRequirement(ctx context.Context, ref domain.TaskRef, prerequisite string) error {
	_, err := p.store.Modify(ctx, ref, func(t *domain.Task) error {
		if !t.RemoveRequirement(prerequisite) && !p.needsRelease(t) {
			return ports.ErrNoChange
		}
		return p.releaseIfReady(ctx, t)
	})
	if errors.Is(err, ports.ErrTaskNotFound) {
		// Not persisted yet: the ingesting request settles it after the commit.
		ctxlog.FromContext(ctx).Warn("Dependent task not found, skipping", "task", ref.String())
		return nil
	}
	return errors.Wrapf(err, "resolve %s for %s", prerequisite, ref)
}

// Settle finishes freshly persisted tasks: requirements on tasks that already
// succeeded are dropped (they may have resolved before the back-link landed)
// and every task left without requirements is released. Root tasks of a new
// graph are released here.
func (p *Propagator) Settle(ctx context.Context, tasks []domain.Task) error {
	var g errgroup.Group
	g.SetLimit(dispatchConcurrency)
	for idx := range tasks {
		t := &tasks[idx]
		g.Go(func() error {
			return p.settle(ctx, t)
		})
	}
	return g.Wait()
}

func (p *Propagator) settle(ctx context.Context, task *domain.Task) error {
	var succeeded []string
	for _, req := range task.RequiresLeft {
		prereq, err := p.store.Load(ctx, domain.TaskRef{GraphID: task.GraphID, TaskID: req})
		if errors.Is(err, ports.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "settle %s", task.Ref())
		}
		if prereq.Succeeded() {
			succeeded = append(succeeded, req)
		}
	}

	_, err := p.store.Modify(ctx, task.Ref(), func(t *domain.Task) error {
		changed := false
		for _, req := range succeeded {
			if t.RemoveRequirement(req) {
				changed = true
			}
		}
		if !changed && !p.needsRelease(t) {
			return ports.ErrNoChange
		}
		return p.releaseIfReady(ctx, t)
	})
	return errors.Wrapf(err, "settle %s", task.Ref())
}

// needsRelease covers a ready task whose release never got recorded.
func (p *Propagator) needsRelease(t *domain.Task) bool {
	return t.Ready() && !t.Released && !t.IsResolved()
}

// releaseIfReady runs inside the transform, before the write commits: if the
// write loses a race the release is simply repeated on the next attempt, and
// a crash after the release but before the commit is repaired by
// redelivery.
func (p *Propagator) releaseIfReady(ctx context.Context, t *domain.Task) error {
	if !t.Ready() || t.IsResolved() {
		return nil
	}
	if err := p.dispatcher.Release(ctx, t.Ref()); err != nil {
		return errors.Wrapf(err, "release %s", t.Ref())
	}
	p.metrics.Releases.Inc()
	t.Released = true
	ctxlog.FromContext(ctx).Info("Task released", "task", t.Ref().String())
	return nil
}
