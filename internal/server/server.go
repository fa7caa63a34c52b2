package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"gantry/internal/logstream"
	"gantry/internal/model"
	"gantry/internal/orchestrator"
	"gantry/pkg/logging"
)

const subsystem = "ControlPlane"

// Server is the control-plane HTTP API.
type Server struct {
	app      *model.Application
	orch     *orchestrator.Orchestrator
	broker   *logstream.Broker
	onStop   func()
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	registry   *prometheus.Registry
	stateGauge *prometheus.GaugeVec

	httpSrv *http.Server
}

// New assembles the control-plane routes. onStop is invoked (once per
// request) when a client POSTs the stop command; the caller decides what
// shutdown means.
func New(app *model.Application, orch *orchestrator.Orchestrator, broker *logstream.Broker, onStop func()) *Server {
	s := &Server{
		app:    app,
		orch:   orch,
		broker: broker,
		onStop: onStop,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// The control plane binds to localhost; cross-origin pages
			// on the same host are the expected dashboard clients.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.initMetrics()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/resources", s.handleListResources)
	s.mux.HandleFunc("GET /api/v1/resources/{name}", s.handleGetResource)
	s.mux.HandleFunc("GET /api/v1/ready", s.handleReady)
	s.mux.HandleFunc("POST /api/v1/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/v1/logs/stream", s.handleLogStream)
	s.mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)
	s.mux.Handle("GET /metrics", s.metricsHandler())
}

// Handler returns the root handler, also used directly by tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	logging.Info(subsystem, "control-plane API listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// endpointView is the wire form of one allocated endpoint.
type endpointView struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Port int    `json:"port"`
}

// resourceView is the wire form of one resource's status.
type resourceView struct {
	Name      string         `json:"name"`
	Kind      string         `json:"kind"`
	State     string         `json:"state"`
	Ready     bool           `json:"ready"`
	Error     string         `json:"error,omitempty"`
	Endpoints []endpointView `json:"endpoints,omitempty"`
}

func (s *Server) view(st orchestrator.Status) resourceView {
	v := resourceView{
		Name:  st.Name,
		Kind:  string(st.Kind),
		State: string(st.State),
		Ready: s.isReady(st),
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	for _, ep := range s.app.Allocations(st.Name) {
		v.Endpoints = append(v.Endpoints, endpointView{
			Name: ep.Name(),
			URI:  ep.URL(),
			Port: ep.Port(),
		})
	}
	return v
}

// isReady mirrors the orchestrator's readiness rule: resources with
// health checks must be Healthy, others just up.
func (s *Server) isReady(st orchestrator.Status) bool {
	r := s.app.Resource(st.Name)
	if r == nil {
		return false
	}
	if len(r.HealthChecks()) > 0 {
		return st.State == model.StateHealthy
	}
	return st.State.IsRunning()
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	statuses := s.orch.Statuses()
	views := make([]resourceView, 0, len(statuses))
	for _, st := range statuses {
		views = append(views, s.view(st))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	st, ok := s.orch.Status(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + name})
		return
	}
	writeJSON(w, http.StatusOK, s.view(st))
}

// handleReady reports whole-application readiness: 200 when every
// resource is ready, 503 with the laggards otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var notReady []string
	for _, st := range s.orch.Statuses() {
		if !s.isReady(st) {
			notReady = append(notReady, st.Name)
		}
	}
	if len(notReady) == 0 {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"ready":    false,
		"notReady": notReady,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	logging.Info(subsystem, "stop requested via control plane")
	if s.onStop != nil {
		go s.onStop()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource != "" && s.app.Resource(resource) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + resource})
		return
	}
	replay, _ := strconv.ParseBool(r.URL.Query().Get("replay"))

	sub := s.broker.Subscribe(logstream.SubscribeOptions{
		Resource: resource,
		Filter:   logstream.FilterLines,
		Replay:   replay,
	})
	s.stream(w, r, sub, func(m logstream.Message) interface{} { return m.Line })
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource != "" && s.app.Resource(resource) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource " + resource})
		return
	}
	sub := s.broker.Subscribe(logstream.SubscribeOptions{
		Resource: resource,
		Filter:   logstream.FilterEvents,
	})
	s.stream(w, r, sub, func(m logstream.Message) interface{} { return m.Event })
}

// stream pumps a broker subscription over one websocket connection until
// either side goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, sub *logstream.Subscription, payload func(logstream.Message) interface{}) {
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Debug(subsystem, "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reader only to observe the client closing.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case m, ok := <-sub.C():
			if !ok {
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"), deadline)
				return
			}
			if err := conn.WriteJSON(payload(m)); err != nil {
				logging.Debug(subsystem, "websocket send failed: %v", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !isBrokenPipe(err) {
		logging.Debug(subsystem, "writing response: %v", err)
	}
}

func isBrokenPipe(err error) bool {
	return err != nil && strings.Contains(err.Error(), "broken pipe")
}
