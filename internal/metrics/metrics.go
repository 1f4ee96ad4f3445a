// Package metrics declares the prometheus collectors of the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskgraph"

type Metrics struct {
	TasksIngested      prometheus.Counter
	Rejections         *prometheus.CounterVec
	Propagations       prometheus.Counter
	Releases           prometheus.Counter
	ModifyConflicts    prometheus.Counter
	Reruns             *prometheus.CounterVec
	PropagationSeconds prometheus.Histogram
	TasksExecuted      *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh
// prometheus.NewRegistry() so they never collide on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_ingested_total",
			Help:      "Tasks accepted by graph ingestion.",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejections_total",
			Help:      "Rejected ingestion requests by violation kind.",
		}, []string{"kind"}),
		Propagations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagations_total",
			Help:      "Successful resolutions propagated to dependents.",
		}),
		Releases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Release calls issued to the dispatcher.",
		}),
		ModifyConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modify_conflicts_total",
			Help:      "Optimistic task updates that lost a race and were retried.",
		}),
		Reruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_decisions_total",
			Help:      "Failed resolutions by outcome (rerun or terminal).",
		}, []string{"outcome"}),
		PropagationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "propagation_duration_seconds",
			Help:      "Time spent propagating one successful resolution.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		TasksExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_executed_total",
			Help:      "Tasks executed by the reference worker by result.",
		}, []string{"result"}),
	}
}
