// Package app bootstraps and runs a gantry host. It follows a two-phase
// pattern: Bootstrap loads the configuration and the application
// definition, allocates endpoints, and wires all services; Run starts
// the resources, serves the control plane, and blocks until shutdown.
package app
