package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gantry/internal/dependency"
	"gantry/internal/launcher"
	"gantry/internal/logstream"
	"gantry/internal/model"
	"gantry/internal/orchestrator"
)

type stubLauncher struct {
	mu      sync.Mutex
	handles map[string]*stubHandle
}

func (s *stubLauncher) Supports(kind model.ResourceKind) bool { return kind != model.KindExternal }

func (s *stubLauncher) Start(ctx context.Context, spec launcher.StartSpec) (launcher.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &stubHandle{name: spec.Resource.Name, done: make(chan struct{})}
	s.handles[spec.Resource.Name] = h
	return h, nil
}

type stubHandle struct {
	name   string
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	result launcher.ExitResult
}

func (h *stubHandle) ID() string            { return "stub-" + h.name }
func (h *stubHandle) Done() <-chan struct{} { return h.done }

func (h *stubHandle) Result() launcher.ExitResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *stubHandle) Stop(ctx context.Context) error {
	h.once.Do(func() {
		h.mu.Lock()
		h.result = launcher.ExitResult{Requested: true}
		h.mu.Unlock()
		close(h.done)
	})
	return nil
}

type fixture struct {
	app     *model.Application
	orch    *orchestrator.Orchestrator
	broker  *logstream.Broker
	srv     *httptest.Server
	dbReady *atomic.Bool
	stops   *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbReady := &atomic.Bool{}
	b := model.NewBuilder()
	b.AddResource(&model.Resource{
		Name:  "db",
		Kind:  model.KindContainer,
		Image: "postgres:16",
		Annotations: []model.Annotation{
			&model.EndpointAnnotation{Name: "tcp", Scheme: "tcp"},
			&model.HealthCheckAnnotation{
				Kind:     model.HealthCheckCustom,
				Interval: 10 * time.Millisecond,
				Probe: func(ctx context.Context) error {
					if dbReady.Load() {
						return nil
					}
					return errors.New("not ready")
				},
			},
		},
	})
	b.AddResource(&model.Resource{
		Name:    "api",
		Kind:    model.KindExecutable,
		Command: "true",
		Annotations: []model.Annotation{
			&model.EndpointAnnotation{Name: "http", Scheme: "http"},
			&model.ReferenceAnnotation{Target: "db", WaitFor: model.TargetHealthy},
		},
	})
	app, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, app.SetAllocations("db", []*model.AllocatedEndpoint{
		model.NewAllocatedEndpoint(app.Resource("db").Endpoint("tcp"), "localhost", 15432),
	}))
	require.NoError(t, app.SetAllocations("api", []*model.AllocatedEndpoint{
		model.NewAllocatedEndpoint(app.Resource("api").Endpoint("http"), "localhost", 20001),
	}))

	graph, err := dependency.New(app)
	require.NoError(t, err)

	broker := logstream.NewBroker(64)
	orch := orchestrator.New(app, graph, launcher.NewRegistry(&stubLauncher{handles: map[string]*stubHandle{}}), broker, orchestrator.Options{
		StopGrace:      time.Second,
		HealthInterval: 10 * time.Millisecond,
	})

	stops := &atomic.Int32{}
	srv := httptest.NewServer(New(app, orch, broker, func() { stops.Add(1) }).Handler())
	t.Cleanup(srv.Close)

	return &fixture{app: app, orch: orch, broker: broker, srv: srv, dbReady: dbReady, stops: stops}
}

func (f *fixture) startAll(t *testing.T) {
	t.Helper()
	f.dbReady.Store(true)
	f.orch.StartAll(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.WaitUntilReady(ctx))
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), "body: %s", body)
	}
	return resp.StatusCode
}

func TestListResources(t *testing.T) {
	fx := newFixture(t)
	fx.startAll(t)

	var views []resourceView
	status := getJSON(t, fx.srv.URL+"/api/v1/resources", &views)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, views, 2)

	// Sorted by name.
	assert.Equal(t, "api", views[0].Name)
	assert.Equal(t, "db", views[1].Name)
	assert.Equal(t, "Healthy", views[1].State)
	assert.True(t, views[1].Ready)
	require.Len(t, views[1].Endpoints, 1)
	assert.Equal(t, "tcp://localhost:15432", views[1].Endpoints[0].URI)
	assert.Equal(t, 15432, views[1].Endpoints[0].Port)
}

func TestGetResource(t *testing.T) {
	fx := newFixture(t)
	fx.startAll(t)

	var view resourceView
	status := getJSON(t, fx.srv.URL+"/api/v1/resources/api", &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Running", view.State)
	assert.True(t, view.Ready)

	status = getJSON(t, fx.srv.URL+"/api/v1/resources/ghost", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestReadyEndpoint(t *testing.T) {
	fx := newFixture(t)

	var body struct {
		Ready    bool     `json:"ready"`
		NotReady []string `json:"notReady"`
	}
	status := getJSON(t, fx.srv.URL+"/api/v1/ready", &body)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, body.Ready)
	assert.ElementsMatch(t, []string{"db", "api"}, body.NotReady)

	fx.startAll(t)
	status = getJSON(t, fx.srv.URL+"/api/v1/ready", &body)
	assert.Equal(t, http.StatusOK, status)
}

func TestStopEndpoint(t *testing.T) {
	fx := newFixture(t)
	resp, err := http.Post(fx.srv.URL+"/api/v1/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return fx.stops.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestLogStreamReplay(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 3; i++ {
		fx.broker.PublishLine(model.LogLine{
			ResourceName: "db",
			Timestamp:    time.Now(),
			Content:      "line",
		})
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(fx.srv, "/api/v1/logs/stream?resource=db&replay=true"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var line model.LogLine
		require.NoError(t, conn.ReadJSON(&line))
		assert.Equal(t, "db", line.ResourceName)
		assert.Equal(t, "line", line.Content)
	}

	// Live lines keep flowing after the replay.
	fx.broker.PublishLine(model.LogLine{ResourceName: "db", Content: "live"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var line model.LogLine
	require.NoError(t, conn.ReadJSON(&line))
	assert.Equal(t, "live", line.Content)
}

func TestLogStreamUnknownResource(t *testing.T) {
	fx := newFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(fx.srv, "/api/v1/logs/stream?resource=ghost"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	fx := newFixture(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(fx.srv, "/api/v1/events/stream?resource=db"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	fx.startAll(t)

	sawHealthy := false
	for !sawHealthy {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var ev model.ResourceEvent
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "db", ev.ResourceName)
		if ev.NewState == model.StateHealthy {
			sawHealthy = true
		}
	}
}

func TestMetrics(t *testing.T) {
	fx := newFixture(t)
	fx.startAll(t)
	fx.broker.PublishLine(model.LogLine{ResourceName: "db", Content: "x"})

	resp, err := http.Get(fx.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `gantry_resource_state{resource="db",state="Healthy"} 1`)
	assert.Contains(t, text, `gantry_resource_state{resource="api",state="Running"} 1`)
	assert.Contains(t, text, `gantry_resource_state{resource="api",state="NotStarted"} 0`)
	assert.Contains(t, text, "gantry_logstream_published_total")
	assert.Contains(t, text, "gantry_logstream_dropped_total")
}
