package model

import "time"

// ResourceKind categorises resources. The launcher picks its strategy
// (OS process vs container engine) based on this tag.
type ResourceKind string

const (
	// KindProject is a buildable project started as a local process.
	KindProject ResourceKind = "Project"
	// KindExecutable is an arbitrary local executable.
	KindExecutable ResourceKind = "Executable"
	// KindContainer is a container image run through the container engine.
	KindContainer ResourceKind = "Container"
	// KindExternal is a resource gantry does not start itself; it only
	// carries a connection string and, optionally, a health check.
	KindExternal ResourceKind = "External"
)

// ResourceState is the lifecycle state of a resource at runtime.
// Transitions are driven exclusively by the orchestrator and the health
// monitor; external callers influence state only via Start/Stop commands.
type ResourceState string

const (
	StateNotStarted             ResourceState = "NotStarted"
	StateWaitingForDependencies ResourceState = "WaitingForDependencies"
	StateStarting               ResourceState = "Starting"
	StateRunning                ResourceState = "Running"
	StateHealthy                ResourceState = "Healthy"
	StateUnhealthy              ResourceState = "Unhealthy"
	StateFailedToStart          ResourceState = "FailedToStart"
	StateStopping               ResourceState = "Stopping"
	StateStopped                ResourceState = "Stopped"
	StateExited                 ResourceState = "Exited"
)

// IsTerminal reports whether no further transitions are expected from s
// without an explicit new Start command.
func (s ResourceState) IsTerminal() bool {
	switch s {
	case StateFailedToStart, StateStopped, StateExited:
		return true
	}
	return false
}

// IsRunning reports whether the underlying process/container is up.
// Healthy and Unhealthy are refinements of Running: the workload is alive,
// only its readiness differs.
func (s ResourceState) IsRunning() bool {
	switch s {
	case StateRunning, StateHealthy, StateUnhealthy:
		return true
	}
	return false
}

// Resource is a named unit of deployable work. The shape (name, kind,
// annotations) is immutable once the application definition is built.
type Resource struct {
	Name string
	Kind ResourceKind

	// Command and WorkingDir apply to Project/Executable resources.
	Command    string
	WorkingDir string

	// Image applies to Container resources.
	Image string

	// Annotations is the ordered collection of typed facts attached to
	// this resource. See annotations.go for the closed variant set.
	Annotations []Annotation
}

// Endpoints returns the endpoint annotations in declaration order.
func (r *Resource) Endpoints() []*EndpointAnnotation {
	var eps []*EndpointAnnotation
	for _, a := range r.Annotations {
		if ep, ok := a.(*EndpointAnnotation); ok {
			eps = append(eps, ep)
		}
	}
	return eps
}

// Endpoint returns the endpoint annotation with the given name, or nil.
func (r *Resource) Endpoint(name string) *EndpointAnnotation {
	for _, ep := range r.Endpoints() {
		if ep.Name == name {
			return ep
		}
	}
	return nil
}

// References returns the declared dependency edges in declaration order.
func (r *Resource) References() []*ReferenceAnnotation {
	var refs []*ReferenceAnnotation
	for _, a := range r.Annotations {
		if ref, ok := a.(*ReferenceAnnotation); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// HealthChecks returns the declared health check descriptors.
func (r *Resource) HealthChecks() []*HealthCheckAnnotation {
	var checks []*HealthCheckAnnotation
	for _, a := range r.Annotations {
		if hc, ok := a.(*HealthCheckAnnotation); ok {
			checks = append(checks, hc)
		}
	}
	return checks
}

// EnvVars returns the declared environment variable annotations.
func (r *Resource) EnvVars() []*EnvVarAnnotation {
	var envs []*EnvVarAnnotation
	for _, a := range r.Annotations {
		if ev, ok := a.(*EnvVarAnnotation); ok {
			envs = append(envs, ev)
		}
	}
	return envs
}

// Args returns the declared command-line arguments, concatenated in
// declaration order.
func (r *Resource) Args() []string {
	var args []string
	for _, a := range r.Annotations {
		if aa, ok := a.(*ArgsAnnotation); ok {
			args = append(args, aa.Values...)
		}
	}
	return args
}

// LogLine is one captured console line, attributable to a resource and a
// stream. Immutable, ordered by emission time per resource.
type LogLine struct {
	ResourceName  string    `json:"resourceName"`
	Timestamp     time.Time `json:"timestamp"`
	Content       string    `json:"content"`
	IsErrorStream bool      `json:"isErrorStream"`
}

// ResourceEvent is a state-change notification for a resource. A Removed
// event is the terminal notification per resource; no further events follow
// it on any subscription.
type ResourceEvent struct {
	ResourceName string        `json:"resourceName"`
	Timestamp    time.Time     `json:"timestamp"`
	NewState     ResourceState `json:"newState"`
	Error        string        `json:"error,omitempty"`
	Removed      bool          `json:"removed,omitempty"`
}
