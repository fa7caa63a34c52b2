package launcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"gantry/internal/logstream"
	"gantry/internal/model"
	"gantry/pkg/logging"
)

const containerSubsystem = "ContainerLauncher"

// engineRemediation is the actionable text attached to engine failures so
// they read distinctly from generic timeouts in log inspection.
const engineRemediation = "container runtime appears unhealthy; check that the container engine is installed and running"

// ContainerLauncher starts Container resources through the local
// container engine.
type ContainerLauncher struct {
	cli    *client.Client
	broker *logstream.Broker
}

// NewContainerLauncher connects to the container engine using environment
// defaults and verifies connectivity. An unreachable engine surfaces here,
// once, instead of per resource.
func NewContainerLauncher(ctx context.Context, broker *logstream.Broker) (*ContainerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create container engine client: %w (%s)", err, engineRemediation)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("container engine unreachable: %w (%s)", err, engineRemediation)
	}
	return &ContainerLauncher{cli: cli, broker: broker}, nil
}

// Supports implements Launcher.
func (l *ContainerLauncher) Supports(kind model.ResourceKind) bool {
	return kind == model.KindContainer
}

// Start implements Launcher: pulls the image when missing, creates the
// container with host port bindings derived from the allocated endpoints,
// starts it, and begins streaming its multiplexed output.
func (l *ContainerLauncher) Start(ctx context.Context, spec StartSpec) (Handle, error) {
	r := spec.Resource

	if err := l.ensureImage(ctx, r.Image); err != nil {
		return nil, &StartError{Resource: r.Name, Err: err, Remediation: engineRemediation}
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, ep := range spec.Endpoints {
		target := ep.Annotation().TargetPort
		if target == 0 {
			target = ep.Port()
		}
		scheme := "tcp" // port bindings are transport-level regardless of URI scheme
		cPort := nat.Port(fmt.Sprintf("%d/%s", target, scheme))
		exposed[cPort] = struct{}{}
		bindings[cPort] = append(bindings[cPort], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(ep.Port()),
		})
	}

	created, err := l.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        r.Image,
			Cmd:          r.Args(),
			Env:          spec.Env,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
		},
		nil, nil, "gantry-"+r.Name)
	if err != nil {
		return nil, &StartError{Resource: r.Name, Err: err, Remediation: engineRemediation}
	}

	if err := l.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup of the half-created container.
		_ = l.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return nil, &StartError{Resource: r.Name, Err: err, Remediation: engineRemediation}
	}

	h := &containerHandle{
		cli:      l.cli,
		id:       created.ID,
		resource: r.Name,
		done:     make(chan struct{}),
	}

	streamsDone := make(chan struct{})
	go l.streamLogs(r.Name, created.ID, streamsDone)

	waitCh, errCh := l.cli.ContainerWait(context.Background(), created.ID, container.WaitConditionNotRunning)
	go func() {
		var result ExitResult
		select {
		case resp := <-waitCh:
			result.Code = int(resp.StatusCode)
			if resp.Error != nil {
				result.Err = fmt.Errorf("container wait: %s", resp.Error.Message)
			}
		case err := <-errCh:
			result.Code = -1
			result.Err = err
		}
		// Let the log stream flush before declaring the exit final.
		select {
		case <-streamsDone:
		case <-time.After(2 * time.Second):
		}
		result.Requested = h.stopRequested.Load()
		h.result = result
		close(h.done)

		_ = l.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		logging.Debug(containerSubsystem, "Container for %s exited with code %d", r.Name, result.Code)
	}()

	logging.Info(containerSubsystem, "Started container for %s (%s)", r.Name, created.ID[:12])
	return h, nil
}

// Close releases the engine client.
func (l *ContainerLauncher) Close() error {
	return l.cli.Close()
}

func (l *ContainerLauncher) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := l.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}
	logging.Info(containerSubsystem, "Pulling image %s", ref)
	reader, err := l.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// Drain the progress stream; it is on the engine side of the wire.
	_, err = io.Copy(io.Discard, reader)
	return err
}

// streamLogs follows the container's multiplexed output, demultiplexes it
// into stdout/stderr, and forwards lines to the broker.
func (l *ContainerLauncher) streamLogs(resource, id string, done chan<- struct{}) {
	defer close(done)

	reader, err := l.cli.ContainerLogs(context.Background(), id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logging.Warn(containerSubsystem, "Cannot stream logs for %s: %v", resource, err)
		return
	}
	defer reader.Close()

	stdout := newLineWriter(l.broker, resource, false)
	stderr := newLineWriter(l.broker, resource, true)
	defer stdout.Flush()
	defer stderr.Flush()

	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && err != io.EOF {
		logging.Debug(containerSubsystem, "Log stream for %s ended: %v", resource, err)
	}
}

type containerHandle struct {
	cli           *client.Client
	id            string
	resource      string
	done          chan struct{}
	result        ExitResult
	stopRequested atomic.Bool
}

func (h *containerHandle) ID() string { return h.id }

func (h *containerHandle) Done() <-chan struct{} { return h.done }

func (h *containerHandle) Result() ExitResult {
	select {
	case <-h.done:
		return h.result
	default:
		return ExitResult{Code: -1, Err: fmt.Errorf("container still running")}
	}
}

// Stop issues an engine stop with a timeout derived from ctx; the engine
// escalates to a kill itself when the timeout elapses.
func (h *containerHandle) Stop(ctx context.Context) error {
	h.stopRequested.Store(true)

	select {
	case <-h.done:
		return nil
	default:
	}

	timeout := 10
	if deadline, ok := ctx.Deadline(); ok {
		if secs := int(time.Until(deadline).Seconds()); secs > 0 {
			timeout = secs
		} else {
			timeout = 0
		}
	}
	if err := h.cli.ContainerStop(ctx, h.id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stopping container for %s: %w", h.resource, err)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("container for %s did not stop before deadline: %w", h.resource, ctx.Err())
	}
}

// lineWriter adapts a byte stream into per-line broker messages, keeping
// partial lines buffered until the newline arrives.
type lineWriter struct {
	broker   *logstream.Broker
	resource string
	isErr    bool
	buf      bytes.Buffer
}

func newLineWriter(broker *logstream.Broker, resource string, isErr bool) *lineWriter {
	return &lineWriter{broker: broker, resource: resource, isErr: isErr}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := string(bytes.TrimRight(w.buf.Next(idx+1), "\r\n"))
		w.publish(line)
	}
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.publish(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) publish(line string) {
	w.broker.PublishLine(model.LogLine{
		ResourceName:  w.resource,
		Timestamp:     time.Now(),
		Content:       line,
		IsErrorStream: w.isErr,
	})
}
