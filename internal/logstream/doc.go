// Package logstream fans console log lines and resource state-change
// events out to any number of independent subscribers.
//
// Every subscriber owns a bounded queue. Publishing never blocks: when a
// subscriber is not keeping up its excess messages are dropped and counted,
// so a stalled dashboard can never backpressure the process that produced
// the output. Per-resource ordering is preserved because every publish and
// subscribe goes through one broker lock; no ordering is promised across
// resources.
//
// A bounded per-resource history ring supports two things: replay-from-
// start for subscribers that do not want to miss early startup output, and
// the "tail of captured logs" attached to crash reports.
package logstream
