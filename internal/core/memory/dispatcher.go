package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/domain"

	"github.com/pkg/errors"
)

// Dispatcher keeps definitions and release markers in memory and pushes
// released task refs onto a queue. It also counts calls so tests can tell
// redundant release calls from effective ones.
type Dispatcher struct {
	mu           sync.Mutex
	queue        ports.TaskQueue
	definitions  map[domain.TaskRef][]byte
	released     map[domain.TaskRef]bool
	releaseCalls map[domain.TaskRef]int
	reruns       map[domain.TaskRef]int
	rerunMarks   map[rerunMark]bool
}

type rerunMark struct {
	ref     domain.TaskRef
	attempt int
}

func NewDispatcher(queue ports.TaskQueue) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		definitions:  make(map[domain.TaskRef][]byte),
		released:     make(map[domain.TaskRef]bool),
		releaseCalls: make(map[domain.TaskRef]int),
		reruns:       make(map[domain.TaskRef]int),
		rerunMarks:   make(map[rerunMark]bool),
	}
}

func (d *Dispatcher) Define(ctx context.Context, ref domain.TaskRef, def domain.TaskDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return errors.Wrapf(err, "encode definition of %s", ref)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.definitions[ref]; ok {
		if bytes.Equal(existing, payload) {
			return nil
		}
		return errors.Wrapf(ports.ErrDefinitionConflict, "define %s", ref)
	}
	d.definitions[ref] = payload
	return nil
}

func (d *Dispatcher) Release(ctx context.Context, ref domain.TaskRef) error {
	d.mu.Lock()
	if _, ok := d.definitions[ref]; !ok {
		d.mu.Unlock()
		return errors.Wrapf(ports.ErrNotDefined, "release %s", ref)
	}
	d.releaseCalls[ref]++
	first := !d.released[ref]
	d.released[ref] = true
	d.mu.Unlock()

	if !first {
		return nil
	}
	return d.queue.Push(ctx, ref.String())
}

func (d *Dispatcher) Rerun(ctx context.Context, ref domain.TaskRef, attempt int) error {
	d.mu.Lock()
	if _, ok := d.definitions[ref]; !ok {
		d.mu.Unlock()
		return errors.Wrapf(ports.ErrNotDefined, "rerun %s", ref)
	}
	mark := rerunMark{ref: ref, attempt: attempt}
	if d.rerunMarks[mark] {
		d.mu.Unlock()
		return nil
	}
	d.rerunMarks[mark] = true
	d.reruns[ref]++
	d.mu.Unlock()

	return d.queue.Push(ctx, ref.String())
}

func (d *Dispatcher) Defined(ref domain.TaskRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.definitions[ref]
	return ok
}

func (d *Dispatcher) Released(ref domain.TaskRef) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released[ref]
}

func (d *Dispatcher) ReleaseCalls(ref domain.TaskRef) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseCalls[ref]
}

func (d *Dispatcher) Reruns(ref domain.TaskRef) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reruns[ref]
}
