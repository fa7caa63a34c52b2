package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gantry/internal/dependency"
	"gantry/internal/health"
	"gantry/internal/launcher"
	"gantry/internal/logstream"
	"gantry/internal/model"
	"gantry/pkg/logging"
)

// exitTailLines is how much captured output accompanies an abnormal
// exit report.
const exitTailLines = 10

// Options tune lifecycle timing.
type Options struct {
	// StartupTimeout bounds WaitUntilReady when the caller's context has
	// no earlier deadline. Zero means no orchestrator-imposed bound.
	StartupTimeout time.Duration
	// StopGrace is the per-resource window between the graceful stop
	// request and the forced kill. Zero defaults to 10 seconds.
	StopGrace time.Duration
	// HealthInterval is the default probe interval for health checks
	// that do not declare their own.
	HealthInterval time.Duration
}

// Orchestrator owns the runtime state of every resource in the
// application.
type Orchestrator struct {
	app      *model.Application
	graph    *dependency.Graph
	registry *launcher.Registry
	broker   *logstream.Broker
	monitor  *health.Monitor
	opts     Options

	mu       sync.Mutex
	runtimes map[string]*runtime
	stopping bool

	cancelStart context.CancelFunc
	wg          sync.WaitGroup
}

// runtime is the mutable per-resource lifecycle record, guarded by the
// orchestrator mutex.
type runtime struct {
	state  model.ResourceState
	err    error
	handle launcher.Handle

	cancelHealth context.CancelFunc

	// changed is closed and replaced on every transition; waiters grab
	// the current channel under the lock and block on it.
	changed chan struct{}
}

// New builds an orchestrator over a sealed application and its
// dependency graph. Nothing starts until StartAll.
func New(app *model.Application, graph *dependency.Graph, registry *launcher.Registry, broker *logstream.Broker, opts Options) *Orchestrator {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	o := &Orchestrator{
		app:      app,
		graph:    graph,
		registry: registry,
		broker:   broker,
		opts:     opts,
		runtimes: make(map[string]*runtime, len(app.Resources())),
	}
	o.monitor = health.NewMonitor(app, o, opts.HealthInterval)
	for _, r := range app.Resources() {
		o.runtimes[r.Name] = &runtime{
			state:   model.StateNotStarted,
			changed: make(chan struct{}),
		}
	}
	return o
}

// Status is a point-in-time view of one resource's lifecycle.
type Status struct {
	Name  string
	Kind  model.ResourceKind
	State model.ResourceState
	Err   error
}

// Status returns the current lifecycle view of one resource.
func (o *Orchestrator) Status(name string) (Status, bool) {
	r := o.app.Resource(name)
	if r == nil {
		return Status{}, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	rt := o.runtimes[name]
	return Status{Name: name, Kind: r.Kind, State: rt.state, Err: rt.err}, true
}

// Statuses returns all resource statuses sorted by name.
func (o *Orchestrator) Statuses() []Status {
	names := o.app.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		if st, ok := o.Status(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// State returns the current lifecycle state of one resource.
func (o *Orchestrator) State(name string) model.ResourceState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rt, ok := o.runtimes[name]; ok {
		return rt.state
	}
	return model.StateNotStarted
}

// setState performs an unconditional lifecycle transition.
func (o *Orchestrator) setState(name string, state model.ResourceState, err error) {
	o.transition(name, state, err, nil)
}

// transition is the only place resource state is written. When a guard
// is given, the check and the write happen under one lock acquisition so
// a racing transition cannot slip between them.
func (o *Orchestrator) transition(name string, state model.ResourceState, err error, allowed func(model.ResourceState) bool) {
	o.mu.Lock()
	rt := o.runtimes[name]
	if allowed != nil && !allowed(rt.state) {
		o.mu.Unlock()
		return
	}
	if rt.state == state && errString(rt.err) == errString(err) {
		o.mu.Unlock()
		return
	}
	rt.state = state
	rt.err = err
	close(rt.changed)
	rt.changed = make(chan struct{})
	o.mu.Unlock()

	if err != nil {
		logging.Warn("Orchestrator", "resource %s -> %s: %v", name, state, err)
	} else {
		logging.Info("Orchestrator", "resource %s -> %s", name, state)
	}
	o.broker.PublishEvent(model.ResourceEvent{
		ResourceName: name,
		Timestamp:    time.Now(),
		NewState:     state,
		Error:        errString(err),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// waitFor blocks until pred holds for the resource or ctx is cancelled,
// and returns the state that satisfied it.
func (o *Orchestrator) waitFor(ctx context.Context, name string, pred func(state model.ResourceState, err error) bool) (model.ResourceState, error) {
	for {
		o.mu.Lock()
		rt, ok := o.runtimes[name]
		if !ok {
			o.mu.Unlock()
			return "", fmt.Errorf("unknown resource %q", name)
		}
		if pred(rt.state, rt.err) {
			state := rt.state
			o.mu.Unlock()
			return state, nil
		}
		changed := rt.changed
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changed:
		}
	}
}

// StartAll launches every resource concurrently, respecting reference
// wait targets, and returns without blocking. Use WaitUntilReady to
// block on readiness.
func (o *Orchestrator) StartAll(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelStart = cancel
	o.mu.Unlock()

	for _, name := range o.graph.TopologicalOrder() {
		r := o.app.Resource(name)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.startResource(runCtx, r)
		}()
	}
}

func (o *Orchestrator) startResource(ctx context.Context, r *model.Resource) {
	refs := r.References()
	if len(refs) > 0 {
		o.setState(r.Name, model.StateWaitingForDependencies, nil)
		for _, ref := range refs {
			if err := o.awaitDependency(ctx, ref); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Stay pinned at WaitingForDependencies; the recorded
				// error chains to the root failure for dependents.
				o.setState(r.Name, model.StateWaitingForDependencies, err)
				return
			}
		}
	}

	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if r.Kind == model.KindExternal {
		// Nothing to launch; the resource is reachable (or not) as-is.
		o.setState(r.Name, model.StateRunning, nil)
		o.watchHealth(ctx, r)
		return
	}

	o.setState(r.Name, model.StateStarting, nil)

	l, err := o.registry.For(r.Kind)
	if err != nil {
		o.setState(r.Name, model.StateFailedToStart, err)
		return
	}
	env, err := launcher.ResolveEnv(o.app, r)
	if err != nil {
		o.setState(r.Name, model.StateFailedToStart, err)
		return
	}
	handle, err := l.Start(ctx, launcher.StartSpec{
		Resource:  r,
		Endpoints: o.app.Allocations(r.Name),
		Env:       env,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown cancelled the start context mid-launch; not a
			// launch failure.
			o.setState(r.Name, model.StateStopped, nil)
			return
		}
		o.setState(r.Name, model.StateFailedToStart, err)
		return
	}

	o.mu.Lock()
	o.runtimes[r.Name].handle = handle
	stopping := o.stopping
	o.mu.Unlock()

	if stopping {
		// Shutdown won the race while the workload was spawning; the
		// stop pass may already be past this resource, so stop the
		// fresh handle here.
		o.setState(r.Name, model.StateStopping, nil)
		grace, cancel := context.WithTimeout(context.Background(), o.opts.StopGrace)
		defer cancel()
		if err := handle.Stop(grace); err != nil {
			logging.Warn("Orchestrator", "stopping %s: %v", r.Name, err)
		}
		<-handle.Done()
		o.setState(r.Name, model.StateStopped, nil)
		return
	}

	o.setState(r.Name, model.StateRunning, nil)
	o.watchHealth(ctx, r)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.watchExit(r.Name, handle)
	}()
}

// awaitDependency blocks until the referenced resource reaches its wait
// target. A reference on Healthy degrades to Running when the target
// declares no health checks, since such a resource can never report
// healthy.
func (o *Orchestrator) awaitDependency(ctx context.Context, ref *model.ReferenceAnnotation) error {
	target := o.app.Resource(ref.Target)
	wantHealthy := ref.WaitFor == model.TargetHealthy && len(target.HealthChecks()) > 0

	satisfied := func(state model.ResourceState) bool {
		if wantHealthy {
			return state == model.StateHealthy
		}
		return state.IsRunning()
	}
	// A dependency that can no longer reach the target: failed or
	// stopped terminally, or itself pinned behind a failed dependency.
	failed := func(state model.ResourceState, err error) bool {
		if state.IsTerminal() {
			return true
		}
		return state == model.StateWaitingForDependencies && err != nil
	}

	state, err := o.waitFor(ctx, ref.Target, func(state model.ResourceState, err error) bool {
		return satisfied(state) || failed(state, err)
	})
	if err != nil {
		return err
	}
	if satisfied(state) {
		return nil
	}

	o.mu.Lock()
	depErr := o.runtimes[ref.Target].err
	o.mu.Unlock()
	if depErr != nil {
		return fmt.Errorf("dependency %q cannot become %s: %w", ref.Target, ref.WaitFor, depErr)
	}
	return fmt.Errorf("dependency %q reached %s before becoming %s", ref.Target, state, ref.WaitFor)
}

func (o *Orchestrator) watchHealth(ctx context.Context, r *model.Resource) {
	if len(r.HealthChecks()) == 0 {
		return
	}
	healthCtx, cancel := context.WithCancel(ctx)
	if err := o.monitor.Watch(healthCtx, r); err != nil {
		cancel()
		logging.Error("Orchestrator", err, "cannot monitor health of %s", r.Name)
		return
	}
	o.mu.Lock()
	o.runtimes[r.Name].cancelHealth = cancel
	o.mu.Unlock()
}

// watchExit classifies the workload's end: a stop we requested becomes
// Stopped, anything spontaneous becomes Exited.
func (o *Orchestrator) watchExit(name string, handle launcher.Handle) {
	<-handle.Done()
	result := handle.Result()

	o.mu.Lock()
	rt := o.runtimes[name]
	if rt.cancelHealth != nil {
		rt.cancelHealth()
		rt.cancelHealth = nil
	}
	o.mu.Unlock()

	if result.Requested {
		o.setState(name, model.StateStopped, nil)
		return
	}
	var err error
	switch {
	case result.Err != nil:
		err = fmt.Errorf("exited unexpectedly: %w", result.Err)
	case result.Code != 0:
		err = fmt.Errorf("exited unexpectedly with code %d", result.Code)
	}
	if err != nil {
		for _, line := range o.broker.Tail(name, exitTailLines) {
			logging.Warn("Orchestrator", "last output of %s: %s", name, line.Content)
		}
	}
	o.setState(name, model.StateExited, err)
}

// SetHealth implements health.Sink. Verdicts only apply while the
// workload is up; the guard and the write share one lock acquisition so
// a late probe result cannot overwrite a stop in progress.
func (o *Orchestrator) SetHealth(resource string, healthy bool, err error) {
	state := model.StateHealthy
	if !healthy {
		state = model.StateUnhealthy
	} else {
		err = nil
	}
	o.transition(resource, state, err, model.ResourceState.IsRunning)
}

// WaitUntilReady blocks until the named resources (all resources when
// none are named) are ready: Healthy for resources with health checks,
// Running otherwise. It fails fast when any awaited resource can no
// longer become ready, returning the root failure.
func (o *Orchestrator) WaitUntilReady(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = o.app.Names()
	}
	if o.opts.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.StartupTimeout)
		defer cancel()
	}

	for _, name := range names {
		r := o.app.Resource(name)
		if r == nil {
			return fmt.Errorf("unknown resource %q", name)
		}
		wantHealthy := len(r.HealthChecks()) > 0

		ready := func(state model.ResourceState) bool {
			if wantHealthy {
				return state == model.StateHealthy
			}
			return state.IsRunning()
		}
		failed := func(state model.ResourceState, err error) bool {
			if state.IsTerminal() {
				return true
			}
			return state == model.StateWaitingForDependencies && err != nil
		}

		state, err := o.waitFor(ctx, name, func(state model.ResourceState, err error) bool {
			return ready(state) || failed(state, err)
		})
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", name, err)
		}
		if !ready(state) {
			o.mu.Lock()
			rtErr := o.runtimes[name].err
			o.mu.Unlock()
			if rtErr != nil {
				return fmt.Errorf("resource %s cannot become ready: %w", name, rtErr)
			}
			return fmt.Errorf("resource %s reached %s before becoming ready", name, state)
		}
	}
	return nil
}

// StopAll shuts down every running resource in reverse dependency order,
// granting each the configured grace window, then publishes the terminal
// Removed event per resource. Safe to call more than once.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	if o.stopping {
		o.mu.Unlock()
		return
	}
	o.stopping = true
	cancelStart := o.cancelStart
	o.mu.Unlock()

	if cancelStart != nil {
		// Unblock dependency waiters and abort in-flight launches.
		cancelStart()
	}

	order := o.graph.TopologicalOrder()
	sortReverse(order)
	for _, name := range order {
		o.stopResource(ctx, name)
	}

	o.wg.Wait()
	o.monitor.Wait()

	for _, name := range o.app.Names() {
		o.mu.Lock()
		state := o.runtimes[name].state
		o.mu.Unlock()
		o.broker.PublishEvent(model.ResourceEvent{
			ResourceName: name,
			Timestamp:    time.Now(),
			NewState:     state,
			Removed:      true,
		})
	}
	logging.Info("Orchestrator", "all resources stopped")
}

func (o *Orchestrator) stopResource(ctx context.Context, name string) {
	// A launch may be mid-flight; wait for it to settle so the handle is
	// either present or will never exist.
	if _, err := o.waitFor(ctx, name, func(s model.ResourceState, _ error) bool {
		return s != model.StateStarting
	}); err != nil {
		return
	}

	o.mu.Lock()
	rt := o.runtimes[name]
	state := rt.state
	handle := rt.handle
	if rt.cancelHealth != nil {
		rt.cancelHealth()
		rt.cancelHealth = nil
	}
	o.mu.Unlock()

	if state.IsTerminal() {
		return
	}
	if handle == nil {
		// External resources and never-launched ones have nothing to stop.
		if state.IsRunning() {
			o.setState(name, model.StateStopped, nil)
		}
		return
	}

	o.setState(name, model.StateStopping, nil)
	grace, cancel := context.WithTimeout(ctx, o.opts.StopGrace)
	defer cancel()
	if err := handle.Stop(grace); err != nil {
		logging.Warn("Orchestrator", "stopping %s: %v", name, err)
	}
	select {
	case <-handle.Done():
	case <-ctx.Done():
	}
	// watchExit records the final Stopped state from the exit result.
}

func sortReverse(names []string) {
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
}
