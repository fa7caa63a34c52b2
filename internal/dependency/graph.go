package dependency

import (
	"fmt"
	"sort"
	"strings"

	"gantry/internal/model"
)

// Edge is one directed dependency: From depends on To, and From may not
// start until To has reached WaitFor.
type Edge struct {
	From    string
	To      string
	WaitFor model.TargetState
}

// CycleError is the fatal build-time error for a cyclic graph. It names
// the participating resources.
type CycleError struct {
	Resources []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between resources: %s", strings.Join(e.Resources, " -> "))
}

// Graph answers dependency queries over a built application. The graph is
// read-only after New; callers may share it freely across goroutines.
type Graph struct {
	names    []string
	edges    map[string][]Edge // keyed by From
	incoming map[string][]Edge // keyed by To
}

// New builds the dependency graph from the application's reference
// annotations and verifies it is acyclic. A cycle is a fatal configuration
// error detected here, before any resource starts.
func New(app *model.Application) (*Graph, error) {
	g := &Graph{
		edges:    make(map[string][]Edge),
		incoming: make(map[string][]Edge),
	}
	for _, r := range app.Resources() {
		g.names = append(g.names, r.Name)
		for _, ref := range r.References() {
			e := Edge{From: r.Name, To: ref.Target, WaitFor: ref.WaitFor}
			g.edges[r.Name] = append(g.edges[r.Name], e)
			g.incoming[ref.Target] = append(g.incoming[ref.Target], e)
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Resources: cycle}
	}
	return g, nil
}

// Dependencies returns the outgoing edges of a resource: everything it
// must wait for.
func (g *Graph) Dependencies(name string) []Edge {
	deps := make([]Edge, len(g.edges[name]))
	copy(deps, g.edges[name])
	return deps
}

// Dependents returns the resources that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	var res []string
	for _, e := range g.incoming[name] {
		res = append(res, e.From)
	}
	return res
}

// TransitiveDependents returns every resource that directly or indirectly
// depends on name, sorted for deterministic reporting.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		for _, dep := range g.Dependents(n) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)

	res := make([]string, 0, len(seen))
	for n := range seen {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// TopologicalOrder returns the resource names ordered so that every
// resource appears after all of its dependencies. Resources with no
// ordering constraint between them keep their declaration order, which
// keeps start logs stable across runs.
func (g *Graph) TopologicalOrder() []string {
	indegree := make(map[string]int, len(g.names))
	for _, n := range g.names {
		indegree[n] = len(g.edges[n])
	}

	var order []string
	ready := make([]string, 0, len(g.names))
	for _, n := range g.names {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, e := range g.incoming[n] {
			indegree[e.From]--
			if indegree[e.From] == 0 {
				ready = append(ready, e.From)
			}
		}
	}
	return order
}

// findCycle runs a depth-first walk and returns one cycle as a name path,
// or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = iota // unvisited
		grey         // on the current path
		black        // finished
	)
	colour := make(map[string]int, len(g.names))
	parent := make(map[string]string)

	var cycleFrom, cycleTo string
	var visit func(n string) bool
	visit = func(n string) bool {
		colour[n] = grey
		for _, e := range g.edges[n] {
			switch colour[e.To] {
			case white:
				parent[e.To] = n
				if visit(e.To) {
					return true
				}
			case grey:
				cycleFrom, cycleTo = n, e.To
				return true
			}
		}
		colour[n] = black
		return false
	}

	for _, n := range g.names {
		if colour[n] == white && visit(n) {
			// Reconstruct the path cycleTo ... cycleFrom, then close the loop.
			var path []string
			for at := cycleFrom; ; at = parent[at] {
				path = append(path, at)
				if at == cycleTo {
					break
				}
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return append(path, cycleTo)
		}
	}
	return nil
}
