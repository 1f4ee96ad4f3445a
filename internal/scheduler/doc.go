// Package scheduler is the dependency-resolution engine.
//
// Ingester turns a submitted batch of task nodes into persisted-ready task
// records: it prefixes routing keys, validates the batch against the input
// schema and against the graph it extends, defines every task with the
// dispatcher and back-links new dependents into existing tasks.
//
// Propagator reacts to one task's successful resolution by removing it from
// the requiresLeft set of each dependent and releasing the dependents whose
// set becomes empty. Every mutation is a fresh load/transform/conditional
// write on a single task record (ports.TaskStore.Modify), and re-applying a
// propagation is a no-op, so completion events can be delivered more than
// once, concurrently, and in any order.
//
// The engine holds no graph in memory. Graph behaviour emerges from point-wise
// updates of records addressed by (graphId, taskId).
package scheduler
