// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package resolver builds a metadata graph from a flat list of dependency
// identifiers, detects cycles and conflicts, and produces a topologically
// valid execution order.
//
// Conflict detection is advisory: resolutions annotate the result but never
// mutate the graph. The caller decides whether to block on unresolved
// conflicts.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DependencyInfo is the metadata tracked per identifier during a resolve
// call. Instances exist only for the duration of the call; they are not
// persisted.
type DependencyInfo struct {
	ID           string   `json:"id"`
	Version      string   `json:"version"`
	Dependencies []string `json:"dependencies,omitempty"`
	Resources    []string `json:"resources,omitempty"`
	Priority     int      `json:"priority"`

	// Slot is an optional scheduling slot; two dependencies sharing a slot
	// are a temporal conflict.
	Slot string `json:"slot,omitempty"`
}

// Result is the structured outcome of a resolve call. Cycles and unresolved
// identifiers are reported as lists rather than errors so a caller can
// decide whether partial resolution is acceptable.
type Result struct {
	Resolved       map[string]DependencyInfo `json:"resolved"`
	Unresolved     []string                  `json:"unresolved"`
	Circular       [][]string                `json:"circularDependencies"`
	Conflicts      []Conflict                `json:"conflicts,omitempty"`
	ExecutionOrder []string                  `json:"executionOrder"`
}

// fastPathLimit is the input size at or below which Resolve uses the direct
// existence check with duplicate-as-cycle detection.
const fastPathLimit = 3

// Resolver resolves dependency identifier lists. Registered metadata and the
// result cache are process-wide and guarded by the resolver's lock; no
// DAG-specific state survives a call beyond that cache.
type Resolver struct {
	mu       sync.Mutex
	registry map[string]DependencyInfo
	cache    map[string]Result
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{
		registry: make(map[string]DependencyInfo),
		cache:    make(map[string]Result),
	}
}

// Register primes the resolver with metadata for an identifier. Subsequent
// Resolve calls use it for transitive dependencies, resources, and slots.
// Registration invalidates the result cache.
func (r *Resolver) Register(info DependencyInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[info.ID] = info
	r.cache = make(map[string]Result)
}

// Resolve resolves the given identifiers into a validated execution order.
// The same input with no intervening Register call yields the same order.
func (r *Resolver) Resolve(ctx context.Context, ids []string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.Join(ids, "\x1f")
	if cached, ok := r.cache[key]; ok {
		return cached
	}

	var res Result
	if len(ids) <= fastPathLimit {
		res = r.resolveSmall(ctx, ids)
	} else {
		res = r.resolveGraph(ctx, ids)
	}

	r.cache[key] = res
	return res
}

// resolveSmall is the fast path for tiny inputs: a direct existence check
// where a duplicated identifier is treated as a circular reference.
func (r *Resolver) resolveSmall(ctx context.Context, ids []string) Result {
	res := Result{
		Resolved:       make(map[string]DependencyInfo),
		Unresolved:     []string{},
		Circular:       [][]string{},
		ExecutionOrder: []string{},
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			slog.WarnContext(ctx, "Duplicate identifier treated as circular reference", "id", id)
			res.Circular = append(res.Circular, []string{id, id})
			continue
		}
		seen[id] = true
		res.Resolved[id] = r.lookup(id)
		res.ExecutionOrder = append(res.ExecutionOrder, id)
	}

	return res
}

// resolveGraph is the full path: graph construction, cycle detection,
// conflict passes, topological sort, and a validation sweep.
func (r *Resolver) resolveGraph(ctx context.Context, ids []string) Result {
	res := Result{
		Resolved:       make(map[string]DependencyInfo),
		Unresolved:     []string{},
		Circular:       [][]string{},
		ExecutionOrder: []string{},
	}

	// 1. Build the metadata graph.
	graph := make(map[string]DependencyInfo, len(ids))
	for _, id := range ids {
		if _, ok := graph[id]; ok {
			// A repeated identifier in the full path is folded, not circular:
			// the graph is keyed by ID.
			continue
		}
		graph[id] = r.lookup(id)
	}

	// 2. Detect cycles before ordering.
	cycles, onCycle := detectCycles(graph)
	res.Circular = cycles
	if len(cycles) > 0 {
		slog.WarnContext(ctx, "Circular dependencies detected", "count", len(cycles))
	}

	// 3. Conflict passes (advisory, graph untouched).
	res.Conflicts = detectConflicts(graph)

	// 4. Topological order by DFS postorder, skipping cycle members.
	order, err := topologicalOrder(graph, onCycle)
	if err != nil {
		// A cycle surviving to this point is a programming error; surface it
		// loudly instead of silently reordering.
		panic(fmt.Sprintf("resolver: %v", err))
	}
	res.ExecutionOrder = order

	// 5. Validation sweep: anything missing from the order is unresolved.
	inOrder := make(map[string]bool, len(order))
	for _, id := range order {
		inOrder[id] = true
		res.Resolved[id] = graph[id]
	}
	missing := make([]string, 0)
	for id := range graph {
		if !inOrder[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	res.Unresolved = missing

	return res
}

// lookup returns registered metadata for an identifier, or derives a minimal
// record from the identifier itself (name@version form).
func (r *Resolver) lookup(id string) DependencyInfo {
	if info, ok := r.registry[id]; ok {
		return info
	}
	_, version := splitVersion(id)
	return DependencyInfo{ID: id, Version: version}
}

// detectCycles runs a depth-first search with a recursion-stack set. Any
// identifier revisited while still on the stack is part of a cycle; the
// cycle is recorded as the sub-path from its first occurrence to the
// revisit. The returned set contains every identifier on some cycle.
func detectCycles(graph map[string]DependencyInfo) ([][]string, map[string]bool) {
	var cycles [][]string
	onCycle := make(map[string]bool)
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)

		for _, dep := range sortedDeps(graph, id) {
			if _, inGraph := graph[dep]; !inGraph {
				continue // external edge, handled by the validation sweep
			}
			if onStack[dep] {
				// Record the sub-path from the first occurrence of dep.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), dep)
				cycles = append(cycles, cycle)
				for _, member := range cycle {
					onCycle[member] = true
				}
				continue
			}
			if !visited[dep] {
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range sortedKeys(graph) {
		if !visited[id] {
			visit(id)
		}
	}

	return cycles, onCycle
}

// topologicalOrder produces a deterministic execution order by depth-first
// postorder traversal with an in-progress marker. Cycle members are skipped;
// meeting an in-progress node anyway means cycle detection missed something
// and is returned as an error for the caller to fail loudly on.
func topologicalOrder(graph map[string]DependencyInfo, onCycle map[string]bool) ([]string, error) {
	const (
		unvisited  = 0
		inProgress = 1
		done       = 2
	)
	marks := make(map[string]int, len(graph))
	order := make([]string, 0, len(graph))

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case done:
			return nil
		case inProgress:
			return fmt.Errorf("unexpected in-progress node %q during topological sort", id)
		}
		marks[id] = inProgress
		for _, dep := range sortedDeps(graph, id) {
			if _, inGraph := graph[dep]; !inGraph {
				continue
			}
			if onCycle[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range sortedKeys(graph) {
		if onCycle[id] {
			continue
		}
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// splitVersion splits an identifier of the form name@version. Identifiers
// without a version suffix report an empty version.
func splitVersion(id string) (base, version string) {
	if i := strings.LastIndex(id, "@"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

// majorVersion returns the leading numeric component of a version string.
func majorVersion(version string) string {
	if version == "" {
		return ""
	}
	if i := strings.Index(version, "."); i >= 0 {
		return version[:i]
	}
	return version
}

func sortedKeys(graph map[string]DependencyInfo) []string {
	keys := make([]string, 0, len(graph))
	for id := range graph {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

func sortedDeps(graph map[string]DependencyInfo, id string) []string {
	deps := append([]string{}, graph[id].Dependencies...)
	sort.Strings(deps)
	return deps
}
