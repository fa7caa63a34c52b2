package model

import "fmt"

// AllocatedEndpoint is the resolved runtime counterpart of an
// EndpointAnnotation: a concrete address and port assigned by the
// allocator. Immutable once created; a reconciliation pass replaces the
// allocation rather than editing it in place.
type AllocatedEndpoint struct {
	annotation *EndpointAnnotation
	address    string
	port       int
}

// NewAllocatedEndpoint constructs an allocation for the given annotation.
// An out-of-range port is a programming error in the allocator, not a
// recoverable condition, so it panics.
func NewAllocatedEndpoint(annotation *EndpointAnnotation, address string, port int) *AllocatedEndpoint {
	if annotation == nil {
		panic("model: AllocatedEndpoint requires an EndpointAnnotation")
	}
	if port < 1 || port > 65535 {
		panic(fmt.Sprintf("model: port %d out of range for endpoint %q", port, annotation.Name))
	}
	return &AllocatedEndpoint{
		annotation: annotation,
		address:    address,
		port:       port,
	}
}

// Annotation returns the declaration this allocation resolves.
func (a *AllocatedEndpoint) Annotation() *EndpointAnnotation { return a.annotation }

// Name returns the symbolic endpoint name.
func (a *AllocatedEndpoint) Name() string { return a.annotation.Name }

// Address returns the concrete host address.
func (a *AllocatedEndpoint) Address() string { return a.address }

// Port returns the concrete host port (1-65535).
func (a *AllocatedEndpoint) Port() int { return a.port }

// HostPort renders "address:port" for dialling.
func (a *AllocatedEndpoint) HostPort() string {
	return fmt.Sprintf("%s:%d", a.address, a.port)
}

// URL renders the endpoint as a URI using the declared scheme.
func (a *AllocatedEndpoint) URL() string {
	scheme := a.annotation.Scheme
	if scheme == "" {
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, a.address, a.port)
}
