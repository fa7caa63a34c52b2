// Package health turns declared health-check descriptors into runnable
// probes and determines per-resource readiness.
//
// Three probe kinds are supported: HTTP (success = 2xx response), TCP
// (success = connect), and custom in-process functions. WaitHealthy polls
// a probe on a constant, per-call-site interval until it succeeds or a
// caller-specified timeout elapses; every intermediate failure is
// swallowed and retried, and expiry surfaces as a TimeoutError rather
// than a hang or a silent success. Intervals are configurable because
// startup costs vary by orders of magnitude between resources.
//
// The Monitor runs the continuous polling loop for resources that have
// reached Running, feeding Healthy/Unhealthy verdicts to its sink (the
// orchestrator), which owns the actual state transitions.
package health
