// Package orchestrator drives resource lifecycles. It is the single
// writer of resource state: launchers, the health monitor, and the
// control API all report into it, and every transition leaves through it
// as a ResourceEvent on the log/event broker.
//
// Startup is maximally parallel. Every resource gets its own goroutine
// that first waits for the resource's declared references to reach their
// wait target (Running or Healthy), then launches through the registry.
// A resource that fails to start pins its transitive dependents at
// WaitingForDependencies; the dependents' recorded error chains back to
// the root failure so the user sees one cause, not N symptoms.
//
// After startup the dependency edges impose no coupling: a dependency
// that exits or turns unhealthy does not stop its dependents. Shutdown
// walks the reverse topological order and gives each workload a bounded
// grace window before the launcher escalates to a kill.
package orchestrator
