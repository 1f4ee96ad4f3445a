package scheduler

import (
	"context"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"

	"github.com/pkg/errors"
)

// HandleFailure spends one rerun on a failed task and queues it again. When
// no reruns are left the failure is terminal and rerun is false; its
// dependents stay blocked.
//
// The rerun is requested before the record is written, like releases, so a
// crash cannot lose it. It is keyed by the reruns left after spending this
// one: a transform repeated after a lost write race asks for the same attempt
// and the dispatcher queues it once. A failure that was already handled is a
// no-op.
func (p *Propagator) HandleFailure(ctx context.Context, failed *domain.Task) (rerun bool, err error) {
	if failed.Resolution == nil || failed.Resolution.Success {
		return false, errors.Wrapf(ErrNotFailed, "handle failure of %s", failed.Ref())
	}
	log := ctxlog.FromContext(ctx).With("task", failed.Ref().String())

	var terminal bool
	updated, err := p.store.Modify(ctx, failed.Ref(), func(t *domain.Task) error {
		rerun, terminal = false, false
		if t.FailedTerminally() {
			terminal = true
			return ports.ErrNoChange
		}
		if !t.Rerun() {
			// Already rerun by an earlier delivery of the same failure
			return ports.ErrNoChange
		}
		if err := p.dispatcher.Rerun(ctx, t.Ref(), t.RerunsLeft); err != nil {
			return errors.Wrapf(err, "rerun %s", t.Ref())
		}
		rerun = true
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "handle failure of %s", failed.Ref())
	}

	switch {
	case rerun:
		p.metrics.Reruns.WithLabelValues("rerun").Inc()
		log.Info("Task failed, rerun scheduled", "reruns_left", updated.RerunsLeft)
	case terminal:
		p.metrics.Reruns.WithLabelValues("terminal").Inc()
		log.Warn("Task failed with no reruns left", "reason", failed.Resolution.Reason)
	default:
		log.Debug("Failure already handled")
	}
	return rerun, nil
}
