package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gantry/internal/logstream"
	"gantry/internal/model"
	"gantry/pkg/logging"
)

const processSubsystem = "ProcessLauncher"

// maxLineLength bounds a single captured console line. Longer lines are
// split rather than dropped.
const maxLineLength = 64 * 1024

// ProcessLauncher starts Project and Executable resources as local OS
// processes.
type ProcessLauncher struct {
	broker *logstream.Broker
}

// NewProcessLauncher creates a process launcher forwarding output to the
// given broker.
func NewProcessLauncher(broker *logstream.Broker) *ProcessLauncher {
	return &ProcessLauncher{broker: broker}
}

// Supports implements Launcher.
func (l *ProcessLauncher) Supports(kind model.ResourceKind) bool {
	return kind == model.KindProject || kind == model.KindExecutable
}

// Start implements Launcher. The spawned process inherits the parent
// environment plus the resolved spec environment.
func (l *ProcessLauncher) Start(ctx context.Context, spec StartSpec) (Handle, error) {
	r := spec.Resource

	// A cancelled start context must not spawn an orphan; shutdown has
	// no handle to stop once this returns.
	if err := ctx.Err(); err != nil {
		return nil, &StartError{Resource: r.Name, Err: err}
	}

	cmd := exec.Command(r.Command, r.Args()...)
	cmd.Dir = r.WorkingDir
	cmd.Env = append(os.Environ(), spec.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Resource: r.Name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &StartError{Resource: r.Name, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &StartError{
			Resource:    r.Name,
			Err:         err,
			Remediation: fmt.Sprintf("verify that %q is installed and on PATH", r.Command),
		}
	}

	h := &processHandle{
		id:       uuid.NewString(),
		resource: r.Name,
		cmd:      cmd,
		done:     make(chan struct{}),
	}

	var streams errgroup.Group
	streams.Go(func() error { return l.scanStream(r.Name, stdout, false) })
	streams.Go(func() error { return l.scanStream(r.Name, stderr, true) })

	go func() {
		// Both streams must be drained before Wait closes the pipes.
		if err := streams.Wait(); err != nil {
			logging.Debug(processSubsystem, "Output streams for %s closed early: %v", r.Name, err)
		}
		err := cmd.Wait()
		h.result = ExitResult{
			Code:      exitCode(cmd, err),
			Requested: h.stopRequested.Load(),
			Err:       err,
		}
		close(h.done)
		logging.Debug(processSubsystem, "Process for %s exited with code %d", r.Name, h.result.Code)
	}()

	logging.Info(processSubsystem, "Started process for %s (pid %d)", r.Name, cmd.Process.Pid)
	return h, nil
}

// scanStream reads one output stream line by line and forwards every line
// to the broker, tagged with resource name and timestamp.
func (l *ProcessLauncher) scanStream(resource string, stream io.Reader, isErr bool) error {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		l.broker.PublishLine(model.LogLine{
			ResourceName:  resource,
			Timestamp:     time.Now(),
			Content:       scanner.Text(),
			IsErrorStream: isErr,
		})
	}
	if err := scanner.Err(); err != nil && err != io.ErrClosedPipe {
		return err
	}
	return nil
}

type processHandle struct {
	id            string
	resource      string
	cmd           *exec.Cmd
	done          chan struct{}
	result        ExitResult
	stopRequested atomic.Bool
}

func (h *processHandle) ID() string { return h.id }

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Result() ExitResult {
	select {
	case <-h.done:
		return h.result
	default:
		return ExitResult{Code: -1, Err: fmt.Errorf("process still running")}
	}
}

// Stop sends SIGTERM and waits for the process to exit; when ctx expires
// first it escalates to SIGKILL.
func (h *processHandle) Stop(ctx context.Context) error {
	h.stopRequested.Store(true)

	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone between the check above and the signal.
		select {
		case <-h.done:
			return nil
		default:
			return fmt.Errorf("signaling process for %s: %w", h.resource, err)
		}
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		logging.Warn(processSubsystem, "Process for %s did not stop in time, killing", h.resource)
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing process for %s: %w", h.resource, err)
		}
		<-h.done
		return nil
	}
}

// exitCode extracts the exit code from a completed command.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		if ee, ok := waitErr.(*exec.ExitError); ok {
			return ee.ExitCode()
		}
	}
	return -1
}
