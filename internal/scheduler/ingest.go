package scheduler

import (
	"context"
	"slices"
	"sort"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/ctxlog"
	"go-taskgraph/internal/domain"
	"go-taskgraph/internal/metrics"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// dispatchConcurrency bounds the in-flight dispatcher and store calls of one
// ingestion.
const dispatchConcurrency = 16

type Ingester struct {
	store      ports.TaskStore
	dispatcher ports.Dispatcher
	schema     SchemaValidator
	metrics    *metrics.Metrics
}

func NewIngester(store ports.TaskStore, dispatcher ports.Dispatcher, schema SchemaValidator, m *metrics.Metrics) *Ingester {
	return &Ingester{
		store:      store,
		dispatcher: dispatcher,
		schema:     schema,
		metrics:    m,
	}
}

// Ingest validates and normalizes a batch for a new or existing graph,
// defines every task with the dispatcher and links new dependents into the
// existing tasks they require. The caller persists IngestResult.Tasks.
//
// Invalid input yields a *Rejection. Any other error is fatal (store or
// dispatcher unreachable) and the whole call may be retried: definitions are
// idempotent and back-links are set-appends.
func (i *Ingester) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	log := ctxlog.FromContext(ctx).With("graph", in.GraphID)

	// 1. Routing normalisation
	nodes := normalizeRouting(in.SchedulerID, in.GraphID, in.Nodes)

	// 2. Schema validation
	if violations := i.schema.Validate(nodes); len(violations) > 0 {
		return nil, i.reject(ctx, "schema violation", violations, nodes)
	}

	// 3. Semantic validation against batch + existing tasks
	if violations := validateBatch(nodes, in.Existing); len(violations) > 0 {
		return nil, i.reject(ctx, "invalid task graph", violations, nodes)
	}

	// 4. Storage records
	tasks, backlinks := buildRecords(in, nodes)

	// 5. Dispatch
	violations, err := i.define(ctx, tasks)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, i.reject(ctx, "dispatcher refused task definitions", violations, nodes)
	}

	// 6. Back-link existing prerequisites
	if err := i.backlink(ctx, in, backlinks); err != nil {
		return nil, err
	}

	i.metrics.TasksIngested.Add(float64(len(tasks)))
	log.Info("Task batch ingested", "tasks", len(tasks), "backlinked", len(backlinks))
	return &IngestResult{Input: nodes, Tasks: tasks}, nil
}

func (i *Ingester) reject(ctx context.Context, message string, violations []Violation, nodes []Node) error {
	r := reject(message, violations, nodes)
	i.metrics.Rejections.WithLabelValues(string(r.Kind())).Inc()
	ctxlog.FromContext(ctx).Warn("Task batch rejected", "kind", r.Kind(), "violations", len(violations))
	return r
}

// buildRecords creates one record per node. Dependents are computed from the
// batch only; edges into existing tasks are returned as backlinks, keyed by
// the existing task id.
func buildRecords(in IngestInput, nodes []Node) ([]domain.Task, map[string][]string) {
	dependents := make(map[string][]string)
	for _, n := range nodes {
		for _, req := range n.Requires {
			dependents[req] = append(dependents[req], n.TaskID)
		}
	}

	tasks := make([]domain.Task, 0, len(nodes))
	for _, n := range nodes {
		t := domain.NewTask(in.GraphID, n.TaskID)
		t.Requires = append(datatypes.JSONSlice[string]{}, n.Requires...)
		t.RequiresLeft = append(datatypes.JSONSlice[string]{}, n.Requires...)
		t.Dependents = append(datatypes.JSONSlice[string]{}, dependents[n.TaskID]...)
		t.RerunsAllowed = n.Reruns
		t.RerunsLeft = n.Reruns
		t.Definition = datatypes.NewJSONType(n.Task)
		t.Deadline = n.Task.Deadline
		tasks = append(tasks, *t)
	}

	backlinks := make(map[string][]string)
	for _, t := range in.Existing {
		if deps, ok := dependents[t.TaskID]; ok {
			backlinks[t.TaskID] = deps
		}
	}
	return tasks, backlinks
}

// define registers every task. Refusals by the dispatcher are collected as
// violations; any other failure (the dispatcher is unreachable) is returned
// as a fatal error and wins over the refusals.
func (i *Ingester) define(ctx context.Context, tasks []domain.Task) ([]Violation, error) {
	failures := make([]error, len(tasks))

	var g errgroup.Group
	g.SetLimit(dispatchConcurrency)
	for idx := range tasks {
		t := &tasks[idx]
		g.Go(func() error {
			failures[idx] = i.dispatcher.Define(ctx, t.Ref(), t.Definition.Data())
			return nil
		})
	}
	g.Wait()

	var violations []Violation
	for idx, err := range failures {
		switch {
		case err == nil:
		case isRefusal(err):
			violations = append(violations, Violation{
				Kind:   KindDispatchFailure,
				TaskID: tasks[idx].TaskID,
				Detail: err.Error(),
			})
		default:
			return nil, errors.Wrapf(err, "define %s", tasks[idx].Ref())
		}
	}
	return violations, nil
}

// isRefusal reports whether the dispatcher answered and declined the
// definition.
func isRefusal(err error) bool {
	return errors.Is(err, ports.ErrDefinitionConflict)
}

// backlink appends new dependents to existing prerequisites. The append is a
// set-union, so a retried ingestion does not duplicate entries.
func (i *Ingester) backlink(ctx context.Context, in IngestInput, backlinks map[string][]string) error {
	ids := make([]string, 0, len(backlinks))
	for id := range backlinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var g errgroup.Group
	g.SetLimit(dispatchConcurrency)
	for _, id := range ids {
		deps := slices.Clone(backlinks[id])
		ref := domain.TaskRef{GraphID: in.GraphID, TaskID: id}
		g.Go(func() error {
			_, err := i.store.Modify(ctx, ref, func(t *domain.Task) error {
				if len(t.AddDependents(deps...)) == 0 {
					return ports.ErrNoChange
				}
				return nil
			})
			return errors.Wrapf(err, "back-link %s", ref)
		})
	}
	return g.Wait()
}
