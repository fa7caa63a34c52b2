// Package model defines the resource graph that a gantry application is
// built from.
//
// An application is declared as an ordered list of resources. Each resource
// carries a closed set of typed annotations: endpoints it will expose,
// environment variables it wants injected, command-line arguments, health
// check descriptors and references to other resources. Because the
// annotation set is a sealed variant type, the Builder can validate the
// whole declaration exhaustively before anything starts.
//
// The model is pure data. After Builder.Build returns, the graph shape is
// immutable; runtime state (allocated endpoints, lifecycle state, process
// handles) is appended by the allocator, orchestrator and launchers through
// their own owning components, never by mutating the declarations here.
package model
