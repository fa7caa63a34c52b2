package launcher

import (
	"context"
	"fmt"

	"gantry/internal/model"
)

// StartSpec is everything a launcher needs to start one resource.
type StartSpec struct {
	Resource *model.Resource
	// Endpoints are the resource's allocated endpoints, used for port
	// bindings (containers) and environment injection.
	Endpoints []*model.AllocatedEndpoint
	// Env is the fully resolved environment, KEY=VALUE pairs.
	Env []string
}

// ExitResult describes how a workload ended.
type ExitResult struct {
	// Code is the exit code; -1 when killed by signal or unknown.
	Code int
	// Requested is true when the exit followed a Stop call. A
	// spontaneous exit (Requested == false) is a failure.
	Requested bool
	// Err carries the wait error, if any, beyond a nonzero exit code.
	Err error
}

// Handle is a started workload. The orchestrator owns every handle it
// receives and is the only component that calls Stop.
type Handle interface {
	// ID identifies the underlying process or container.
	ID() string
	// Done is closed once the workload has exited and its output
	// streams are drained.
	Done() <-chan struct{}
	// Result is valid after Done is closed.
	Result() ExitResult
	// Stop requests a graceful shutdown, escalating to a forceful kill
	// when ctx expires before the workload exits.
	Stop(ctx context.Context) error
}

// Launcher starts workloads of one resource kind.
type Launcher interface {
	// Supports reports whether this launcher handles the given kind.
	Supports(kind model.ResourceKind) bool
	// Start spawns the workload. Failure to spawn is fatal for the
	// resource and is reported as a StartError.
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}

// StartError is the launch-failure contract: fatal for the resource and
// its transitive dependents, carrying remediation text a user can act on.
type StartError struct {
	Resource    string
	Remediation string
	Err         error
}

func (e *StartError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("failed to start resource %q: %v (%s)", e.Resource, e.Err, e.Remediation)
	}
	return fmt.Sprintf("failed to start resource %q: %v", e.Resource, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Registry selects a launcher by resource kind.
type Registry struct {
	launchers []Launcher
}

// NewRegistry creates a registry over the given launchers, consulted in
// order.
func NewRegistry(launchers ...Launcher) *Registry {
	return &Registry{launchers: launchers}
}

// For returns the launcher responsible for kind.
func (r *Registry) For(kind model.ResourceKind) (Launcher, error) {
	for _, l := range r.launchers {
		if l.Supports(kind) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("no launcher registered for resource kind %q", kind)
}
