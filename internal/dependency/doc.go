// Package dependency builds and queries the directed acyclic graph implied
// by resource reference annotations.
//
// The graph is computed once from a built model.Application, rejects
// cycles with a CycleError naming the participating resources, and then
// serves read-only queries: topological start order, direct and transitive
// dependents, and the wait-target per edge (Running vs Healthy). The
// orchestrator consumes these answers to gate initial starts; it never
// mutates the graph.
package dependency
