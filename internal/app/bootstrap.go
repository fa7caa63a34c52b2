package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gantry/internal/config"
	"gantry/internal/dependency"
	"gantry/internal/endpoint"
	"gantry/internal/launcher"
	"gantry/internal/logstream"
	"gantry/internal/model"
	"gantry/internal/orchestrator"
	"gantry/internal/server"
	"gantry/pkg/logging"
)

// Host is a bootstrapped gantry instance: configuration resolved,
// definition validated, ports allocated, services wired, nothing started.
type Host struct {
	cfg    config.Config
	app    *model.Application
	graph  *dependency.Graph
	broker *logstream.Broker
	orch   *orchestrator.Orchestrator
	srv    *server.Server

	definitionPath string
	// Startup is where the machine-readable startup signal is written.
	// Defaults to stdout; tests redirect it.
	Startup io.Writer

	stopOnce      sync.Once
	stopRequested chan struct{}
}

// Bootstrap builds a Host from a host config file and an application
// definition file. All build-phase failures (invalid definition,
// dependency cycles, port collisions, unreachable container engine)
// surface here, before anything starts.
func Bootstrap(ctx context.Context, configPath, definitionPath string) (*Host, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Level(), os.Stderr)

	application, err := config.LoadDefinition(definitionPath)
	if err != nil {
		return nil, err
	}
	return bootstrap(ctx, cfg, application, definitionPath)
}

// BootstrapApplication wires a Host around an already built application
// model, for embedding gantry as a library.
func BootstrapApplication(ctx context.Context, cfg config.Config, application *model.Application) (*Host, error) {
	return bootstrap(ctx, cfg, application, "")
}

func bootstrap(ctx context.Context, cfg config.Config, application *model.Application, definitionPath string) (*Host, error) {
	graph, err := dependency.New(application)
	if err != nil {
		return nil, err
	}

	allocator := endpoint.New(endpoint.Options{
		Randomize: cfg.RandomizePorts,
		BasePort:  cfg.BasePort,
	})
	if err := allocator.Allocate(application); err != nil {
		return nil, err
	}

	broker := logstream.NewBroker(cfg.HistorySize)

	launchers := []launcher.Launcher{launcher.NewProcessLauncher(broker)}
	if hasContainers(application) {
		containers, err := launcher.NewContainerLauncher(ctx, broker)
		if err != nil {
			return nil, err
		}
		launchers = append(launchers, containers)
	}

	orch := orchestrator.New(application, graph, launcher.NewRegistry(launchers...), broker, orchestrator.Options{
		StartupTimeout: cfg.StartupTimeout.Std(),
		StopGrace:      cfg.StopGrace.Std(),
		HealthInterval: cfg.HealthInterval.Std(),
	})

	h := &Host{
		cfg:            cfg,
		app:            application,
		graph:          graph,
		broker:         broker,
		orch:           orch,
		definitionPath: definitionPath,
		Startup:        os.Stdout,
		stopRequested:  make(chan struct{}),
	}
	h.srv = server.New(application, orch, broker, h.RequestStop)
	return h, nil
}

// hasContainers reports whether the definition needs the container
// engine at all; hosts without container resources must run without a
// reachable engine.
func hasContainers(application *model.Application) bool {
	for _, r := range application.Resources() {
		if r.Kind == model.KindContainer {
			return true
		}
	}
	return false
}

// Application returns the sealed application model.
func (h *Host) Application() *model.Application { return h.app }

// Orchestrator exposes the lifecycle engine, mainly for tests and
// embedding.
func (h *Host) Orchestrator() *orchestrator.Orchestrator { return h.orch }

// Broker exposes the log/event broker.
func (h *Host) Broker() *logstream.Broker { return h.broker }

// RequestStop asks a running host to shut down. Safe to call from any
// goroutine and more than once.
func (h *Host) RequestStop() {
	h.stopOnce.Do(func() { close(h.stopRequested) })
}

// startupSignal is the single machine-readable line emitted once all
// endpoints are allocated, before the start sequence, so wrapping
// tooling can discover them without parsing logs.
type startupSignal struct {
	Status    string                       `json:"status"`
	Resources map[string]map[string]string `json:"resources"`
}

func (h *Host) emitStartupSignal() error {
	signal := startupSignal{
		Status:    "allocated",
		Resources: make(map[string]map[string]string, len(h.app.Resources())),
	}
	for _, name := range h.app.Names() {
		endpoints := make(map[string]string)
		for _, ep := range h.app.Allocations(name) {
			endpoints[ep.Name()] = ep.URL()
		}
		signal.Resources[name] = endpoints
	}
	line, err := json.Marshal(signal)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(h.Startup, string(line))
	return err
}
