// Package launcher starts and supervises the external workloads behind
// resources: OS processes for Project/Executable resources and containers
// for Container resources.
//
// A Launcher turns a start request (resource, allocated endpoints,
// resolved environment) into a Handle: a small managed-workload value
// offering Done/Result/Stop, used by composition from the orchestrator and
// from test fixtures alike. Both launchers capture stdout and stderr
// line by line, tag every line with the owning resource and timestamp, and
// forward it to the fan-out broker; the broker's bounded queues mean a
// slow log consumer never backpressures the child.
//
// Stopping is graceful first (SIGTERM, or an engine stop with timeout),
// escalating to a kill when the grace period runs out. A workload that
// exits after Stop was requested reports a requested exit; a spontaneous
// exit is classified as abnormal.
package launcher
