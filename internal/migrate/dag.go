package migrate

import (
	"fmt"
	"slices"
	"strings"
)

// CycleError reports migrations that depend on each other in a loop.
type CycleError struct {
	// Path lists the cycle, first element repeated at the end.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "migration dependency cycle: " + strings.Join(e.Path, " -> ")
}

// dependencyGraph maps a migration id to the ids it depends on. Keys keep
// registration order in ids so every traversal is deterministic.
type dependencyGraph struct {
	ids  []string
	deps map[string][]string
}

func buildGraph(migrations []Migration) (*dependencyGraph, error) {
	g := &dependencyGraph{deps: make(map[string][]string, len(migrations))}
	for _, m := range migrations {
		g.ids = append(g.ids, m.ID)
		g.deps[m.ID] = m.DependsOn
	}
	for _, id := range g.ids {
		for _, dep := range g.deps[id] {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("migration %s: unknown dependency %q", id, dep)
			}
		}
	}
	if cycle := g.firstCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}
	return g, nil
}

// order returns a topological order: dependencies first, ties broken by
// registration order.
func (g *dependencyGraph) order() []string {
	placed := make(map[string]bool, len(g.ids))
	out := make([]string, 0, len(g.ids))
	for len(out) < len(g.ids) {
		for _, id := range g.ids {
			if placed[id] {
				continue
			}
			ready := true
			for _, dep := range g.deps[id] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[id] = true
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// dependents returns ids plus every migration that transitively depends on
// one of them.
func (g *dependencyGraph) dependents(ids []string) map[string]bool {
	closure := make(map[string]bool, len(ids))
	for _, id := range ids {
		closure[id] = true
	}
	for changed := true; changed; {
		changed = false
		for _, id := range g.ids {
			if closure[id] {
				continue
			}
			for _, dep := range g.deps[id] {
				if closure[dep] {
					closure[id] = true
					changed = true
					break
				}
			}
		}
	}
	return closure
}

// firstCycle returns the first cycle found, or nil when the graph is acyclic.
func (g *dependencyGraph) firstCycle() []string {
	for _, scc := range tarjanSCC(g) {
		if len(scc) > 1 || slices.Contains(g.deps[scc[0]], scc[0]) {
			return cyclePath(scc, g)
		}
	}
	return nil
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node components without self-loops are not cycles.
func tarjanSCC(g *dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, id := range g.ids {
		if _, visited := indices[id]; !visited {
			strongConnect(id)
		}
	}
	return sccs
}

// cyclePath walks edges inside an SCC from its earliest-registered member
// until it returns to the start.
func cyclePath(scc []string, g *dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, id := range scc {
		members[id] = true
	}
	var start string
	for _, id := range g.ids {
		if members[id] {
			start = id
			break
		}
	}

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, dep := range g.deps[current] {
			if dep == start {
				return append(path, start)
			}
			if members[dep] && !visited[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return append(path, start)
		}
		visited[next] = true
		path = append(path, next)
		current = next
	}
}
