// Package endpoint assigns concrete addresses and ports to every declared
// endpoint of a built application.
//
// Fixed-port declarations are honored exactly; two fixed endpoints that
// bind the same address and port are a fatal build error. Dynamic
// endpoints are resolved by actually binding a listener and releasing it,
// so the reported port was genuinely free at allocation time. With
// randomized mode enabled the kernel picks the port, which keeps
// concurrent test runs from colliding on a static free-port table.
//
// The allocator only reserves and reports ports; binding for real is the
// launcher's job.
package endpoint
