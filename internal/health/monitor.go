package health

import (
	"context"
	"sync"
	"time"

	"gantry/internal/model"
	"gantry/pkg/logging"
)

// Sink receives continuous health verdicts. Implemented by the
// orchestrator, which owns the resulting state transitions.
type Sink interface {
	// SetHealth reports the latest verdict for a running resource.
	// err is nil when healthy and carries the failing probe's error
	// otherwise.
	SetHealth(resource string, healthy bool, err error)
}

// Monitor polls the probes of running resources and pushes verdicts to a
// Sink. One Watch goroutine runs per resource; the orchestrator cancels
// its context when the resource leaves the running states.
type Monitor struct {
	app      *model.Application
	sink     Sink
	interval time.Duration

	wg sync.WaitGroup
}

// NewMonitor builds a monitor over the application's allocations.
// defaultInterval is used for checks that do not declare their own; zero
// falls back to DefaultInterval.
func NewMonitor(app *model.Application, sink Sink, defaultInterval time.Duration) *Monitor {
	if defaultInterval <= 0 {
		defaultInterval = DefaultInterval
	}
	return &Monitor{app: app, sink: sink, interval: defaultInterval}
}

// Interval returns the effective polling interval for a resource: the
// smallest declared check interval, or the monitor default when no check
// declares one.
func (m *Monitor) Interval(r *model.Resource) time.Duration {
	interval := time.Duration(0)
	for _, hc := range r.HealthChecks() {
		if hc.Interval > 0 && (interval == 0 || hc.Interval < interval) {
			interval = hc.Interval
		}
	}
	if interval == 0 {
		interval = m.interval
	}
	return interval
}

// Watch starts the polling loop for one resource and returns immediately.
// Resources without health checks are not watched; they stay at Running.
// The loop stops when ctx is cancelled.
func (m *Monitor) Watch(ctx context.Context, r *model.Resource) error {
	probes, err := Probes(m.app, r)
	if err != nil {
		return err
	}
	if len(probes) == 0 {
		return nil
	}
	interval := m.Interval(r)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, r.Name, probes, interval)
	}()
	return nil
}

// Wait blocks until all watch loops have exited.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) run(ctx context.Context, resource string, probes []Probe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First verdict immediately rather than one interval in.
	m.poll(ctx, resource, probes)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx, resource, probes)
		}
	}
}

func (m *Monitor) poll(ctx context.Context, resource string, probes []Probe) {
	for _, p := range probes {
		attempt, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := p.Check(attempt)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Debug("Health", "probe %s failed: %v", p.Name(), err)
			m.sink.SetHealth(resource, false, err)
			return
		}
	}
	m.sink.SetHealth(resource, true, nil)
}
