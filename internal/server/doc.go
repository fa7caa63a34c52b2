// Package server exposes the control-plane API over HTTP: resource
// status as JSON, readiness of the whole application, a stop trigger,
// live log and event streams over websockets, and Prometheus metrics.
//
// The server is a read-side view plus one command (stop). All state it
// reports comes from the orchestrator and the log broker; it never
// mutates resources itself.
package server
