package model

import (
	"fmt"
	"sort"
)

// ValidationError is a fatal configuration error detected during the build
// phase, before any process starts. It always names the offending
// resource(s).
type ValidationError struct {
	Resource string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("invalid application definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid resource %q: %s", e.Resource, e.Reason)
}

// Builder assembles an application definition. It is used during the
// definition phase only; Build seals the graph shape.
type Builder struct {
	resources []*Resource
}

// NewBuilder returns an empty application builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddResource appends a resource declaration. Validation is deferred to
// Build so that forward references between resources are allowed.
func (b *Builder) AddResource(r *Resource) *Builder {
	b.resources = append(b.resources, r)
	return b
}

// Build validates the declarations and seals them into an Application.
// All configuration errors are fatal here: duplicate resource names,
// duplicate endpoint names within one resource, references to unknown
// resources, and malformed annotations. Cycle detection over the reference
// edges is the dependency package's job and runs as part of the
// application build step, also before anything starts.
func (b *Builder) Build() (*Application, error) {
	byName := make(map[string]*Resource, len(b.resources))

	for _, r := range b.resources {
		if r.Name == "" {
			return nil, &ValidationError{Reason: "resource with empty name"}
		}
		if _, dup := byName[r.Name]; dup {
			return nil, &ValidationError{Resource: r.Name, Reason: "duplicate resource name"}
		}
		byName[r.Name] = r
	}

	for _, r := range b.resources {
		if err := validateResource(r); err != nil {
			return nil, err
		}
		for _, ref := range r.References() {
			if ref.Target == r.Name {
				return nil, &ValidationError{Resource: r.Name, Reason: "resource references itself"}
			}
			if _, ok := byName[ref.Target]; !ok {
				return nil, &ValidationError{
					Resource: r.Name,
					Reason:   fmt.Sprintf("references unknown resource %q", ref.Target),
				}
			}
		}
	}

	return &Application{
		resources:   b.resources,
		byName:      byName,
		allocations: make(map[string][]*AllocatedEndpoint),
	}, nil
}

func validateResource(r *Resource) error {
	switch r.Kind {
	case KindProject, KindExecutable:
		if r.Command == "" {
			return &ValidationError{Resource: r.Name, Reason: "process resource requires a command"}
		}
	case KindContainer:
		if r.Image == "" {
			return &ValidationError{Resource: r.Name, Reason: "container resource requires an image"}
		}
	case KindExternal:
		// Nothing to launch; endpoints and health checks are still allowed.
	default:
		return &ValidationError{Resource: r.Name, Reason: fmt.Sprintf("unknown resource kind %q", r.Kind)}
	}

	seenEndpoints := make(map[string]struct{})
	for _, a := range r.Annotations {
		switch ann := a.(type) {
		case *EndpointAnnotation:
			if ann.Name == "" {
				return &ValidationError{Resource: r.Name, Reason: "endpoint with empty name"}
			}
			if _, dup := seenEndpoints[ann.Name]; dup {
				return &ValidationError{
					Resource: r.Name,
					Reason:   fmt.Sprintf("duplicate endpoint name %q", ann.Name),
				}
			}
			seenEndpoints[ann.Name] = struct{}{}
			if ann.Port < 0 || ann.Port > 65535 {
				return &ValidationError{
					Resource: r.Name,
					Reason:   fmt.Sprintf("endpoint %q has invalid fixed port %d", ann.Name, ann.Port),
				}
			}
		case *EnvVarAnnotation:
			if ann.Name == "" {
				return &ValidationError{Resource: r.Name, Reason: "environment variable with empty name"}
			}
		case *HealthCheckAnnotation:
			switch ann.Kind {
			case HealthCheckHTTP, HealthCheckTCP:
				if ann.Endpoint == "" {
					return &ValidationError{
						Resource: r.Name,
						Reason:   fmt.Sprintf("%s health check requires an endpoint name", ann.Kind),
					}
				}
			case HealthCheckCustom:
				if ann.Probe == nil {
					return &ValidationError{Resource: r.Name, Reason: "custom health check requires a probe function"}
				}
			default:
				return &ValidationError{
					Resource: r.Name,
					Reason:   fmt.Sprintf("unknown health check kind %q", ann.Kind),
				}
			}
		case *ReferenceAnnotation:
			if ann.WaitFor != TargetRunning && ann.WaitFor != TargetHealthy {
				return &ValidationError{
					Resource: r.Name,
					Reason:   fmt.Sprintf("reference to %q has invalid wait target %q", ann.Target, ann.WaitFor),
				}
			}
		case *ArgsAnnotation:
			// Always valid.
		}
	}

	// Health checks must target declared endpoints.
	for _, hc := range r.HealthChecks() {
		if hc.Kind == HealthCheckCustom {
			continue
		}
		if _, ok := seenEndpoints[hc.Endpoint]; !ok {
			return &ValidationError{
				Resource: r.Name,
				Reason:   fmt.Sprintf("health check targets unknown endpoint %q", hc.Endpoint),
			}
		}
	}

	return nil
}

// Application is the sealed resource graph. The declaration shape is
// read-only after Build; endpoint allocations are appended exactly once by
// the allocator during the build phase, before any concurrent access
// begins, so no locking is needed for readers afterwards.
type Application struct {
	resources   []*Resource
	byName      map[string]*Resource
	allocations map[string][]*AllocatedEndpoint
}

// Resources returns the resources in declaration order.
func (a *Application) Resources() []*Resource {
	return a.resources
}

// Resource returns the named resource, or nil.
func (a *Application) Resource(name string) *Resource {
	return a.byName[name]
}

// Names returns all resource names, sorted for deterministic output.
func (a *Application) Names() []string {
	names := make([]string, 0, len(a.byName))
	for name := range a.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetAllocations records the allocator's result for a resource. Called
// once per resource by the endpoint allocator during the build phase.
func (a *Application) SetAllocations(resource string, eps []*AllocatedEndpoint) error {
	if _, ok := a.byName[resource]; !ok {
		return fmt.Errorf("unknown resource %q", resource)
	}
	a.allocations[resource] = eps
	return nil
}

// Allocations returns the allocated endpoints for a resource in
// declaration order, or nil if allocation has not run.
func (a *Application) Allocations(resource string) []*AllocatedEndpoint {
	return a.allocations[resource]
}

// Allocation returns the allocation for one named endpoint of a resource,
// or nil.
func (a *Application) Allocation(resource, endpoint string) *AllocatedEndpoint {
	for _, ep := range a.allocations[resource] {
		if ep.Name() == endpoint {
			return ep
		}
	}
	return nil
}
