// Package memory provides in-process implementations of the ports: task and
// graph stores with the same optimistic versioning as the postgres
// repositories, a dispatcher, a task queue and an event bus.
//
// They back the `--backend=memory` mode, where the server runs its own
// workers, and the tests of the scheduling engine.
package memory
