// Package depgraph validates work-breakdown dependency graphs.
//
// Validation is a pure function with no side effects: the project
// initializer runs it to completion before anything is created in the
// external tracking system, so a cyclic graph can never reach partial
// creation.
package depgraph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownDependency is returned when a depends_on edge references an
// id that is not among the supplied nodes.
var ErrUnknownDependency = errors.New("depends_on references unknown id")

// ErrDuplicateID is returned when two nodes share an id.
var ErrDuplicateID = errors.New("duplicate node id")

// Node is one vertex of the dependency graph.
type Node struct {
	ID        string
	DependsOn []string
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	// Acyclic is true when the graph has no dependency cycles.
	Acyclic bool

	// Order is a topological order of all ids (dependencies first).
	// Nil when the graph is cyclic.
	Order []string

	// Cycle names the ids of one offending cycle, in edge order.
	// Nil when the graph is acyclic.
	Cycle []string
}

// Validate checks the graph induced by depends_on edges for cycles
// using Kahn's algorithm: repeatedly remove nodes with in-degree zero.
// If nodes remain when none can be removed, the remainder contains at
// least one cycle, which is extracted with a DFS restricted to the
// remaining nodes. Cost is O(V+E).
//
// Malformed input (duplicate ids, edges to unknown ids) is a
// configuration error, returned before any graph analysis.
func Validate(nodes []Node) (*ValidationResult, error) {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, exists := byID[n.ID]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, n.ID)
		}
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: %q depends on %q", ErrUnknownDependency, n.ID, dep)
			}
		}
	}

	// In-degree counts edges dep -> node; dependents[dep] lists the
	// nodes unblocked when dep is removed.
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] += 0
		for _, dep := range n.DependsOn {
			inDegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var ready []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	// Deterministic order among simultaneously-ready nodes.
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		unblocked := make([]string, 0, len(dependents[id]))
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				unblocked = append(unblocked, next)
			}
		}
		sort.Strings(unblocked)
		ready = append(ready, unblocked...)
	}

	if len(order) == len(nodes) {
		return &ValidationResult{Acyclic: true, Order: order}, nil
	}

	remaining := make(map[string]bool, len(nodes)-len(order))
	for id, deg := range inDegree {
		if deg > 0 {
			remaining[id] = true
		}
	}
	return &ValidationResult{Acyclic: false, Cycle: extractCycle(byID, remaining)}, nil
}

// extractCycle walks depends_on edges inside the remaining node set
// until a node repeats, then returns the loop portion of the walk.
func extractCycle(byID map[string]Node, remaining map[string]bool) []string {
	var start string
	ids := make([]string, 0, len(remaining))
	for id := range remaining {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start = ids[0]

	visitedAt := map[string]int{}
	var path []string
	current := start
	for {
		if at, seen := visitedAt[current]; seen {
			return path[at:]
		}
		visitedAt[current] = len(path)
		path = append(path, current)

		// Every remaining node has at least one remaining dependency.
		next := ""
		deps := append([]string(nil), byID[current].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if remaining[dep] {
				next = dep
				break
			}
		}
		current = next
	}
}
