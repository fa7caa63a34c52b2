package endpoint

import (
	"fmt"
	"net"
	"strconv"

	"gantry/internal/model"
	"gantry/pkg/logging"
)

const subsystem = "Allocator"

// DefaultMaxAttempts bounds how often the allocator probes for a free
// dynamic port before giving up on a resource.
const DefaultMaxAttempts = 20

// PortCollisionError is the fatal build error for two fixed-port endpoints
// claiming the same address and port.
type PortCollisionError struct {
	Address   string
	Port      int
	First     string // "resource/endpoint" that claimed the port first
	Colliding string
}

func (e *PortCollisionError) Error() string {
	return fmt.Sprintf("fixed port collision on %s:%d between %s and %s",
		e.Address, e.Port, e.First, e.Colliding)
}

// AllocationError is the fatal build error for a dynamic endpoint that
// could not be given a free port within the attempt budget.
type AllocationError struct {
	Resource string
	Endpoint string
	Attempts int
	Err      error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("no free port for %s/%s after %d attempts: %v",
		e.Resource, e.Endpoint, e.Attempts, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Options configures an Allocator.
type Options struct {
	// Address is the host address endpoints are allocated on.
	// Defaults to "localhost".
	Address string
	// Randomize makes the kernel choose dynamic ports instead of
	// scanning upward from BasePort. Used to isolate concurrent test
	// runs, where multiple allocators race for the same host.
	Randomize bool
	// BasePort is where the sequential scan starts when Randomize is
	// off. Defaults to 20000.
	BasePort int
	// MaxAttempts bounds the probe loop per endpoint.
	MaxAttempts int
}

// Allocator produces a mapping from every EndpointAnnotation to exactly
// one AllocatedEndpoint. It performs no network listening beyond transient
// free-port probes.
type Allocator struct {
	address     string
	randomize   bool
	basePort    int
	maxAttempts int

	// taken tracks address:port pairs handed out during this run so one
	// allocation pass never reports the same port twice.
	taken map[string]string // "addr:port" -> "resource/endpoint"
}

// New creates an allocator with the given options.
func New(opts Options) *Allocator {
	if opts.Address == "" {
		opts.Address = "localhost"
	}
	if opts.BasePort == 0 {
		opts.BasePort = 20000
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		address:     opts.Address,
		randomize:   opts.Randomize,
		basePort:    opts.BasePort,
		maxAttempts: opts.MaxAttempts,
		taken:       make(map[string]string),
	}
}

// Allocate resolves every endpoint of every resource and records the
// results on the application. Any error is fatal for the whole build:
// partial allocation would leave the graph inconsistent.
func (a *Allocator) Allocate(app *model.Application) error {
	// Fixed ports first so that a dynamic probe can never race a fixed
	// claim within the same pass.
	for _, r := range app.Resources() {
		for _, ep := range r.Endpoints() {
			if ep.Port == 0 {
				continue
			}
			if err := a.claimFixed(r.Name, ep); err != nil {
				return err
			}
		}
	}

	next := a.basePort
	for _, r := range app.Resources() {
		var allocs []*model.AllocatedEndpoint
		for _, ep := range r.Endpoints() {
			if ep.Port != 0 {
				allocs = append(allocs, model.NewAllocatedEndpoint(ep, a.address, ep.Port))
				continue
			}
			port, err := a.findFreePort(r.Name, ep.Name, &next)
			if err != nil {
				return err
			}
			a.taken[a.key(a.address, port)] = r.Name + "/" + ep.Name
			allocs = append(allocs, model.NewAllocatedEndpoint(ep, a.address, port))
			logging.Debug(subsystem, "Allocated dynamic port %d for %s/%s", port, r.Name, ep.Name)
		}
		if err := app.SetAllocations(r.Name, allocs); err != nil {
			return err
		}
	}
	return nil
}

// claimFixed records a fixed-port claim, detecting collisions. A wildcard
// bind ("0.0.0.0" or "::") collides with any claim on the same port.
func (a *Allocator) claimFixed(resource string, ep *model.EndpointAnnotation) error {
	owner := resource + "/" + ep.Name

	for takenKey, takenOwner := range a.taken {
		_, portStr, _ := net.SplitHostPort(takenKey)
		if portStr != strconv.Itoa(ep.Port) {
			continue
		}
		takenHost, _, _ := net.SplitHostPort(takenKey)
		if takenHost == a.address || isWildcard(takenHost) || isWildcard(a.address) {
			return &PortCollisionError{
				Address:   a.address,
				Port:      ep.Port,
				First:     takenOwner,
				Colliding: owner,
			}
		}
	}

	a.taken[a.key(a.address, ep.Port)] = owner
	return nil
}

// findFreePort probes for a bindable port. With randomize on it asks the
// kernel (port 0); otherwise it scans upward from the base port so that
// repeated runs of the same application get stable addresses.
func (a *Allocator) findFreePort(resource, endpoint string, next *int) (int, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		candidate := 0
		if !a.randomize {
			candidate = *next
			*next++
			if candidate > 65535 {
				break
			}
			if _, used := a.taken[a.key(a.address, candidate)]; used {
				continue
			}
		}

		ln, err := net.Listen("tcp", net.JoinHostPort(a.address, strconv.Itoa(candidate)))
		if err != nil {
			// Something else holds the port right now; try the next one.
			lastErr = err
			continue
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		if a.randomize {
			if _, used := a.taken[a.key(a.address, port)]; used {
				lastErr = fmt.Errorf("kernel returned already-reserved port %d", port)
				continue
			}
		}
		return port, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("port range exhausted")
	}
	return 0, &AllocationError{
		Resource: resource,
		Endpoint: endpoint,
		Attempts: a.maxAttempts,
		Err:      lastErr,
	}
}

func (a *Allocator) key(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

func isWildcard(host string) bool {
	return host == "0.0.0.0" || host == "::" || host == ""
}
