package scheduler

import (
	"fmt"
	"slices"
	"strings"

	"go-taskgraph/internal/domain"
)

// validateBatch checks the batch against the union of its own task ids and
// the ids already in the graph. All violations are collected.
func validateBatch(nodes []Node, existing []domain.Task) []Violation {
	var violations []Violation

	known := make(map[string]bool, len(nodes)+len(existing))
	for _, t := range existing {
		known[t.TaskID] = true
	}

	inBatch := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		switch {
		case known[n.TaskID]:
			violations = append(violations, Violation{
				Kind:   KindDuplicateTask,
				TaskID: n.TaskID,
				Detail: "task already exists in the graph",
			})
		case inBatch[n.TaskID]:
			violations = append(violations, Violation{
				Kind:   KindDuplicateTask,
				TaskID: n.TaskID,
				Detail: "task id is used more than once in the batch",
			})
		}
		inBatch[n.TaskID] = true
	}
	for id := range inBatch {
		known[id] = true
	}

	for _, n := range nodes {
		seen := make(map[string]int, len(n.Requires))
		for _, req := range n.Requires {
			seen[req]++
			if seen[req] == 2 {
				violations = append(violations, Violation{
					Kind:   KindDuplicateRequirement,
					TaskID: n.TaskID,
					Ref:    req,
					Detail: fmt.Sprintf("requires lists %q more than once", req),
				})
			}
			if seen[req] == 1 && !known[req] {
				violations = append(violations, Violation{
					Kind:   KindDanglingRequirement,
					TaskID: n.TaskID,
					Ref:    req,
					Detail: fmt.Sprintf("requires %q, which is neither in the batch nor in the graph", req),
				})
			}
		}
	}

	// A cycle needs every edge to resolve, so only look once the references
	// are sound.
	if len(violations) == 0 {
		if cycle := findCycle(nodes, existing); cycle != nil {
			violations = append(violations, Violation{
				Kind:   KindCyclicRequirement,
				TaskID: cycle[0],
				Detail: "cycle: " + strings.Join(cycle, " -> "),
			})
		}
	}
	return violations
}

// findCycle runs a three-colour depth-first search over the requires edges
// and returns one cycle as a path that starts and ends with the same id, or
// nil. Nodes are visited in sorted order so the witness is deterministic.
func findCycle(nodes []Node, existing []domain.Task) []string {
	requires := make(map[string][]string, len(nodes)+len(existing))
	for _, t := range existing {
		requires[t.TaskID] = slices.Clone(t.Requires)
	}
	for _, n := range nodes {
		requires[n.TaskID] = slices.Clone(n.Requires)
	}

	ids := make([]string, 0, len(requires))
	for id, reqs := range requires {
		ids = append(ids, id)
		slices.Sort(reqs)
	}
	slices.Sort(ids)

	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(ids))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colour[id] = grey
		stack = append(stack, id)
		for _, req := range requires[id] {
			switch colour[req] {
			case grey:
				start := slices.Index(stack, req)
				cycle := slices.Clone(stack[start:])
				return append(cycle, req)
			case white:
				if cycle := visit(req); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return nil
	}

	for _, id := range ids {
		if colour[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
