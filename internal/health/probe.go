package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"gantry/internal/model"
)

// attemptTimeout bounds a single probe attempt so that one stuck dial or
// request cannot starve the polling loop.
const attemptTimeout = 5 * time.Second

// Probe is a single readiness check. Check returns nil when the resource
// is ready; any error means "not ready yet" and is retried by the caller.
type Probe interface {
	// Name identifies the probe in errors and logs,
	// e.g. "api/http GET /health".
	Name() string
	Check(ctx context.Context) error
}

// FromAnnotation builds the runnable probe for one declared health check,
// resolving endpoint targets against the application's allocations. The
// builder has already validated the annotation, so a missing allocation
// here means the allocator was skipped.
func FromAnnotation(app *model.Application, resource string, hc *model.HealthCheckAnnotation) (Probe, error) {
	switch hc.Kind {
	case model.HealthCheckHTTP:
		ep := app.Allocation(resource, hc.Endpoint)
		if ep == nil {
			return nil, fmt.Errorf("health: resource %q endpoint %q has no allocation", resource, hc.Endpoint)
		}
		path := hc.Path
		if path == "" {
			path = "/"
		}
		scheme := ep.Annotation().Scheme
		if scheme != "http" && scheme != "https" {
			scheme = "http"
		}
		return &httpProbe{
			resource: resource,
			endpoint: hc.Endpoint,
			url:      fmt.Sprintf("%s://%s%s", scheme, ep.HostPort(), path),
			client:   &http.Client{Timeout: attemptTimeout},
		}, nil
	case model.HealthCheckTCP:
		ep := app.Allocation(resource, hc.Endpoint)
		if ep == nil {
			return nil, fmt.Errorf("health: resource %q endpoint %q has no allocation", resource, hc.Endpoint)
		}
		return &tcpProbe{
			resource: resource,
			endpoint: hc.Endpoint,
			addr:     ep.HostPort(),
		}, nil
	case model.HealthCheckCustom:
		if hc.Probe == nil {
			return nil, fmt.Errorf("health: resource %q declares a custom check without a probe function", resource)
		}
		return &customProbe{resource: resource, fn: hc.Probe}, nil
	default:
		return nil, fmt.Errorf("health: resource %q declares unknown health check kind %q", resource, hc.Kind)
	}
}

// Probes builds all probes declared by a resource, in declaration order.
func Probes(app *model.Application, r *model.Resource) ([]Probe, error) {
	checks := r.HealthChecks()
	probes := make([]Probe, 0, len(checks))
	for _, hc := range checks {
		p, err := FromAnnotation(app, r.Name, hc)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, nil
}

type httpProbe struct {
	resource string
	endpoint string
	url      string
	client   *http.Client
}

func (p *httpProbe) Name() string {
	return fmt.Sprintf("%s/%s http %s", p.resource, p.endpoint, p.url)
}

func (p *httpProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health: %s returned status %d", p.url, resp.StatusCode)
	}
	return nil
}

type tcpProbe struct {
	resource string
	endpoint string
	addr     string
}

func (p *tcpProbe) Name() string {
	return fmt.Sprintf("%s/%s tcp %s", p.resource, p.endpoint, p.addr)
}

func (p *tcpProbe) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: attemptTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

type customProbe struct {
	resource string
	fn       model.ProbeFunc
}

func (p *customProbe) Name() string {
	return fmt.Sprintf("%s custom probe", p.resource)
}

func (p *customProbe) Check(ctx context.Context) error {
	return p.fn(ctx)
}
