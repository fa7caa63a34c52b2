// Package logging provides the structured logging system for gantry.
//
// It is a thin wrapper over Go's standard slog package that adds a
// subsystem tag to every entry so that output from the orchestrator,
// allocator, launchers and streaming layer can be filtered apart:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Orchestrator", "Started resource: %s", name)
//	logging.Error("Launcher", err, "Failed to spawn process for %s", name)
//
// Level filtering happens at the handler, so suppressed entries cost no
// allocation. The package is safe for concurrent use from any goroutine.
package logging
