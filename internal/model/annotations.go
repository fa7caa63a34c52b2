package model

import (
	"context"
	"time"
)

// Annotation is the closed set of typed facts that can be attached to a
// resource. The unexported marker method seals the variant set so that
// validation can switch over it exhaustively.
type Annotation interface {
	annotation()
}

// TargetState is the state a dependency must reach before a dependent may
// start.
type TargetState string

const (
	// TargetRunning gates only on process ordering.
	TargetRunning TargetState = "Running"
	// TargetHealthy gates on readiness, e.g. "wait for the database
	// before starting the API".
	TargetHealthy TargetState = "Healthy"
)

// EndpointAnnotation declares a named network endpoint a resource will
// expose. Within one resource, endpoint names are unique.
type EndpointAnnotation struct {
	// Name is the symbolic endpoint name ("http", "grpc", ...).
	Name string
	// Scheme is the URI scheme used when rendering the endpoint as a URL.
	Scheme string
	// Port pins the endpoint to a fixed host port when non-zero.
	// Zero means the allocator assigns a dynamic port.
	Port int
	// TargetPort is the port the workload listens on inside a container.
	// Ignored for process resources, which bind the allocated port
	// directly. Zero defaults to the allocated host port.
	TargetPort int
	// IsProxied marks endpoints that are fronted by a reverse proxy
	// rather than dialled directly.
	IsProxied bool
}

func (*EndpointAnnotation) annotation() {}

// EnvVarAnnotation declares an environment variable to inject into the
// resource at launch. Value may contain placeholders resolved against the
// allocated endpoint set, see launcher.ResolveEnv.
type EnvVarAnnotation struct {
	Name  string
	Value string
}

func (*EnvVarAnnotation) annotation() {}

// ArgsAnnotation appends command-line arguments for the launched workload.
type ArgsAnnotation struct {
	Values []string
}

func (*ArgsAnnotation) annotation() {}

// HealthCheckKind discriminates health check descriptors.
type HealthCheckKind string

const (
	// HealthCheckHTTP polls an HTTP endpoint until it returns 2xx.
	HealthCheckHTTP HealthCheckKind = "http"
	// HealthCheckTCP probes until a TCP connect succeeds.
	HealthCheckTCP HealthCheckKind = "tcp"
	// HealthCheckCustom runs an in-process probe function.
	HealthCheckCustom HealthCheckKind = "custom"
)

// ProbeFunc is a custom in-process readiness check. A nil error means
// healthy.
type ProbeFunc func(ctx context.Context) error

// HealthCheckAnnotation describes one readiness probe for a resource.
type HealthCheckAnnotation struct {
	Kind HealthCheckKind
	// Endpoint names the resource endpoint the probe targets
	// (http and tcp kinds).
	Endpoint string
	// Path is the request path for http probes ("/health").
	Path string
	// Interval between probe attempts. Zero uses the monitor default.
	// Startup costs vary widely per resource (databases can take tens of
	// seconds), so this is configurable per check.
	Interval time.Duration
	// Probe is the check function for custom kind.
	Probe ProbeFunc
}

func (*HealthCheckAnnotation) annotation() {}

// ReferenceAnnotation is a directed dependency edge: this resource
// references/depends on Target, and will not start until Target has
// reached WaitFor.
type ReferenceAnnotation struct {
	Target  string
	WaitFor TargetState
}

func (*ReferenceAnnotation) annotation() {}
