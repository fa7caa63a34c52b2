package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gantry/internal/config"
	"gantry/pkg/logging"
)

// ErrStartupFailed wraps any error that prevented the application from
// becoming ready; the process exits nonzero for it.
var ErrStartupFailed = errors.New("startup failed")

// Run starts all resources and the control plane, blocks until a stop is
// requested (signal, control-plane command, or ctx cancellation), and
// shuts everything down in reverse dependency order. A nil return means
// clean startup and clean shutdown.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	serverErr := make(chan error, 1)
	go func() {
		err := h.srv.Serve(ctx, h.cfg.ControlAddress)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if h.definitionPath != "" {
		if err := config.WatchDefinition(ctx, h.definitionPath, nil); err != nil {
			logging.Warn("App", "cannot watch definition file: %v", err)
		}
	}

	// Endpoints are fixed at this point; emit them before the start
	// sequence so wrapping tooling can pick them up while resources are
	// still warming. Only the started marker gates on readiness.
	if err := h.emitStartupSignal(); err != nil {
		logging.Warn("App", "emitting startup signal: %v", err)
	}

	h.orch.StartAll(ctx)
	if err := h.orch.WaitUntilReady(ctx); err != nil {
		logging.Error("App", err, "application failed to become ready")
		h.shutdown()
		return fmt.Errorf("%w: %v", ErrStartupFailed, err)
	}

	logging.Info("App", "application started, %d resources ready", len(h.app.Resources()))

	select {
	case sig := <-sigCh:
		logging.Info("App", "received %s, shutting down", sig)
	case <-h.stopRequested:
		logging.Info("App", "stop requested, shutting down")
	case err := <-serverErr:
		logging.Error("App", err, "control-plane server failed")
		h.shutdown()
		return err
	case <-ctx.Done():
	}

	h.shutdown()
	return nil
}

func (h *Host) shutdown() {
	// Stop is bounded per resource by the configured grace window; the
	// overall budget only guards against a wedged container engine.
	budget := h.cfg.StopGrace.Std() * time.Duration(len(h.app.Resources())+1)
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	h.orch.StopAll(ctx)
	h.broker.Close()
}
