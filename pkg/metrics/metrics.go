// Package metrics exposes the manager's operational Prometheus metrics,
// carried from the teacher's metrics package (ambient stack, not excluded
// by spec.md's usage-analytics Non-goal since that excludes business
// analytics, not operational gauges).
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsTotal counts sessions currently in each status.
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backendai_manager_sessions_total",
			Help: "Number of sessions by status",
		},
		[]string{"status"},
	)

	// KernelsTotal counts kernels currently in each status.
	KernelsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backendai_manager_kernels_total",
			Help: "Number of kernels by status",
		},
		[]string{"status"},
	)

	// AgentsTotal counts agents by status.
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backendai_manager_agents_total",
			Help: "Number of agents by status",
		},
		[]string{"status"},
	)

	// SchedulingLatency observes how long one scheduler tick's agent
	// selection + RPC dispatch for a session took.
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backendai_manager_scheduling_latency_seconds",
			Help:    "Time from a scheduler tick picking up a PENDING session to issuing create_kernels",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SessionsScheduled counts sessions the scheduler successfully moved
	// out of PENDING.
	SessionsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backendai_manager_sessions_scheduled_total",
			Help: "Total number of sessions scheduled onto an agent",
		},
	)

	// SessionsFailed counts sessions that failed scheduling or creation.
	SessionsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backendai_manager_sessions_failed_total",
			Help: "Total number of sessions that failed to schedule or create",
		},
	)

	// EventBusLag observes the gap between an event's stream timestamp and
	// the moment a handler picks it up.
	EventBusLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backendai_manager_event_bus_lag_seconds",
			Help:    "Delay between event publish and handler dispatch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LeaderIsElected is 1 on the manager process currently holding the
	// leader-election raft term, 0 otherwise.
	LeaderIsElected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backendai_manager_leader_is_elected",
			Help: "Whether this process holds the scheduler leader role (1 = leader, 0 = follower)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsTotal,
		KernelsTotal,
		AgentsTotal,
		SchedulingLatency,
		SessionsScheduled,
		SessionsFailed,
		EventBusLag,
		LeaderIsElected,
	)
}

// Server exposes /metrics (and a plain liveness /healthz) over HTTP,
// mirroring the teacher's health-server pattern of a small net/http
// listener run alongside the main process.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics HTTP server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks serving /metrics and /healthz until the server is
// shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
