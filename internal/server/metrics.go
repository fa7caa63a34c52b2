package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gantry/internal/model"
)

var resourceStates = []model.ResourceState{
	model.StateNotStarted,
	model.StateWaitingForDependencies,
	model.StateStarting,
	model.StateRunning,
	model.StateHealthy,
	model.StateUnhealthy,
	model.StateFailedToStart,
	model.StateStopping,
	model.StateStopped,
	model.StateExited,
}

func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()

	s.stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gantry",
		Name:      "resource_state",
		Help:      "Current lifecycle state per resource, one-hot across states",
	}, []string{"resource", "state"})

	published := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "gantry",
		Subsystem: "logstream",
		Name:      "published_total",
		Help:      "Messages published to the log/event broker",
	}, func() float64 { return float64(s.broker.Published()) })

	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "gantry",
		Subsystem: "logstream",
		Name:      "dropped_total",
		Help:      "Messages dropped because a subscriber queue was full",
	}, func() float64 { return float64(s.broker.TotalDropped()) })

	subscribers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gantry",
		Subsystem: "logstream",
		Name:      "subscribers",
		Help:      "Active broker subscriptions",
	}, func() float64 { return float64(s.broker.SubscriberCount()) })

	s.registry.MustRegister(s.stateGauge, published, dropped, subscribers)
}

// refreshStateGauge re-derives the one-hot state gauge from the
// orchestrator before every scrape.
func (s *Server) refreshStateGauge() {
	for _, st := range s.orch.Statuses() {
		for _, state := range resourceStates {
			value := 0.0
			if st.State == state {
				value = 1.0
			}
			s.stateGauge.WithLabelValues(st.Name, string(state)).Set(value)
		}
	}
}

func (s *Server) metricsHandler() http.Handler {
	inner := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.refreshStateGauge()
		inner.ServeHTTP(w, r)
	})
}
