package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec

	authAttemptsTotal   *prometheus.CounterVec
	authFailuresDelayed prometheus.Counter

	workerSpawnedTotal *prometheus.CounterVec
	workerRequestTotal *prometheus.CounterVec
	workerQueueDepth   prometheus.Gauge
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_connections_total",
			Help: "Total number of connections accepted, by listener kind.",
		}, []string{"kind"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "authd_connections_active",
			Help: "Number of currently open connections, by listener kind.",
		}, []string{"kind"}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_auth_attempts_total",
			Help: "Total number of authentication attempts, by mechanism and result.",
		}, []string{"mechanism", "result"}),
		authFailuresDelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_auth_failures_delayed_total",
			Help: "Total number of FAIL responses enqueued on the failure-delay queue.",
		}),

		workerSpawnedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_worker_spawned_total",
			Help: "Total number of worker subprocesses spawned, by exit reason.",
		}, []string{"reason"}),
		workerRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_worker_requests_total",
			Help: "Total number of worker dispatch outcomes.",
		}, []string{"result"}),
		workerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authd_worker_queue_depth",
			Help: "Current depth of the worker pool's pending request queue.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.authAttemptsTotal,
		c.authFailuresDelayed,
		c.workerSpawnedTotal,
		c.workerRequestTotal,
		c.workerQueueDepth,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge for kind.
func (c *PrometheusCollector) ConnectionOpened(kind string) {
	c.connectionsTotal.WithLabelValues(kind).Inc()
	c.connectionsActive.WithLabelValues(kind).Inc()
}

// ConnectionClosed decrements the active connections gauge for kind.
func (c *PrometheusCollector) ConnectionClosed(kind string) {
	c.connectionsActive.WithLabelValues(kind).Dec()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(mechanism string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(mechanism, result).Inc()
}

// AuthFailureDelayed increments the delayed-failure counter.
func (c *PrometheusCollector) AuthFailureDelayed() {
	c.authFailuresDelayed.Inc()
}

// WorkerSpawned increments the worker-spawned counter.
func (c *PrometheusCollector) WorkerSpawned() {
	c.workerSpawnedTotal.WithLabelValues("startup").Inc()
}

// WorkerExited increments the worker-spawned counter with an exit reason,
// since a replacement worker is spawned immediately after.
func (c *PrometheusCollector) WorkerExited(crashed bool) {
	reason := "clean"
	if crashed {
		reason = "crashed"
	}
	c.workerSpawnedTotal.WithLabelValues(reason).Inc()
}

// WorkerRequestCompleted increments the worker request outcome counter.
func (c *PrometheusCollector) WorkerRequestCompleted(result string) {
	c.workerRequestTotal.WithLabelValues(result).Inc()
}

// WorkerQueueDepth sets the worker queue depth gauge.
func (c *PrometheusCollector) WorkerQueueDepth(depth int) {
	c.workerQueueDepth.Set(float64(depth))
}

// PrometheusServer serves the /metrics endpoint over HTTP.
type PrometheusServer struct {
	addr string
	path string
}

// NewPrometheusServer creates a metrics HTTP server bound to addr, serving
// the default registry at path.
func NewPrometheusServer(addr, path string) *PrometheusServer {
	return &PrometheusServer{addr: addr, path: path}
}

// Start serves metrics until ctx is cancelled.
func (s *PrometheusServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	srv := &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
